// Package memrepo is an in-memory repository.Repository for tests. It keeps
// the same optimistic-version and uniqueness semantics as the gorm store.
package memrepo

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/fatflowers/stembill/pkg/tool"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/shopspring/decimal"
)

type state struct {
	users           map[string]models.User
	subscriptions   map[string]models.Subscription
	transactions    map[string]models.Transaction
	projects        map[string]models.Project
	files           map[string]models.ProjectFile
	processedEvents map[string]models.ProcessedEvent
	activities      []models.Activity
}

func (s *state) clone() *state {
	return &state{
		users:           maps.Clone(s.users),
		subscriptions:   maps.Clone(s.subscriptions),
		transactions:    maps.Clone(s.transactions),
		projects:        maps.Clone(s.projects),
		files:           maps.Clone(s.files),
		processedEvents: maps.Clone(s.processedEvents),
		activities:      append([]models.Activity(nil), s.activities...),
	}
}

type store struct {
	mu    sync.Mutex
	data  *state
	fails map[string]error
	// beforeWrite runs inside write methods, after the row was read; tests use
	// it to simulate a concurrent writer.
	beforeWrite func(method string, tx *Repo)
}

// Repo implements repository.Repository. A Repo returned to a Transaction
// callback shares the lock already held by the caller.
type Repo struct {
	s    *store
	inTx bool
}

var _ repository.Repository = (*Repo)(nil)

func New() *Repo {
	return &Repo{s: &store{
		data: &state{
			users:           map[string]models.User{},
			subscriptions:   map[string]models.Subscription{},
			transactions:    map[string]models.Transaction{},
			projects:        map[string]models.Project{},
			files:           map[string]models.ProjectFile{},
			processedEvents: map[string]models.ProcessedEvent{},
		},
		fails: map[string]error{},
	}}
}

func (r *Repo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

// FailOn makes every later call to method return err until cleared with nil.
func (r *Repo) FailOn(method string, err error) {
	unlock := r.lock()
	defer unlock()
	if err == nil {
		delete(r.s.fails, method)
		return
	}
	r.s.fails[method] = err
}

// BeforeWrite installs a hook called with the method name at the start of
// every conditional write. tx must be used for any change the hook makes;
// the store lock is already held.
func (r *Repo) BeforeWrite(fn func(method string, tx *Repo)) {
	unlock := r.lock()
	defer unlock()
	r.s.beforeWrite = fn
}

func (r *Repo) fail(method string) error {
	return r.s.fails[method]
}

func (r *Repo) hook(method string) {
	if r.s.beforeWrite != nil {
		r.s.beforeWrite(method, &Repo{s: r.s, inTx: true})
	}
}

// Seeding and inspection helpers.

func (r *Repo) PutUser(u models.User) {
	unlock := r.lock()
	defer unlock()
	r.s.data.users[u.ID] = u
}

func (r *Repo) PutProject(p models.Project, files ...models.ProjectFile) {
	unlock := r.lock()
	defer unlock()
	r.s.data.projects[p.ID] = p
	for _, f := range files {
		r.s.data.files[f.ID] = f
	}
}

func (r *Repo) PutSubscription(sub models.Subscription) {
	unlock := r.lock()
	defer unlock()
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
	}
	r.s.data.subscriptions[sub.ID] = sub
}

func (r *Repo) User(id string) models.User {
	unlock := r.lock()
	defer unlock()
	return r.s.data.users[id]
}

func (r *Repo) Project(id string) models.Project {
	unlock := r.lock()
	defer unlock()
	return r.s.data.projects[id]
}

func (r *Repo) Files(projectID string) []models.ProjectFile {
	unlock := r.lock()
	defer unlock()
	var out []models.ProjectFile
	for _, f := range r.s.data.files {
		if f.ProjectID == projectID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Repo) Subscriptions(userID string) []models.Subscription {
	unlock := r.lock()
	defer unlock()
	var out []models.Subscription
	for _, s := range r.s.data.subscriptions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

func (r *Repo) Transactions() []models.Transaction {
	unlock := r.lock()
	defer unlock()
	out := make([]models.Transaction, 0, len(r.s.data.transactions))
	for _, t := range r.s.data.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalRef < out[j].ExternalRef })
	return out
}

func (r *Repo) Activities() []models.Activity {
	unlock := r.lock()
	defer unlock()
	return append([]models.Activity(nil), r.s.data.activities...)
}

func (r *Repo) ProcessedEventCount() int {
	unlock := r.lock()
	defer unlock()
	return len(r.s.data.processedEvents)
}

// repository.Repository

func (r *Repo) FindSubscriptionByExternalID(_ context.Context, externalID string) (*models.Subscription, error) {
	unlock := r.lock()
	defer unlock()
	if err := r.fail("FindSubscriptionByExternalID"); err != nil {
		return nil, err
	}
	for _, s := range r.s.data.subscriptions {
		if s.ExternalID == externalID {
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Repo) FindActiveSubscriptionByUser(_ context.Context, userID string) (*models.Subscription, error) {
	unlock := r.lock()
	defer unlock()
	for _, s := range r.s.data.subscriptions {
		if s.UserID == userID && s.IsActive {
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Repo) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	unlock := r.lock()
	defer unlock()
	if err := r.fail("UpsertSubscription"); err != nil {
		return err
	}
	r.hook("UpsertSubscription")
	now := time.Now()
	for id, s := range r.s.data.subscriptions {
		if id == sub.ID {
			continue
		}
		if s.ExternalID == sub.ExternalID {
			return repository.ErrConcurrentUpdate
		}
		if sub.IsActive && s.IsActive && s.UserID == sub.UserID {
			return repository.ErrConcurrentUpdate
		}
	}
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
		sub.Version = 1
		sub.CreatedAt, sub.UpdatedAt = now, now
		r.s.data.subscriptions[sub.ID] = *sub
		return nil
	}
	cur, ok := r.s.data.subscriptions[sub.ID]
	if !ok || cur.Version != sub.Version {
		return repository.ErrConcurrentUpdate
	}
	sub.Version++
	sub.UpdatedAt = now
	r.s.data.subscriptions[sub.ID] = *sub
	return nil
}

func (r *Repo) DeactivateOtherSubscriptions(_ context.Context, userID, keepExternalID string) (int64, error) {
	unlock := r.lock()
	defer unlock()
	var n int64
	for id, s := range r.s.data.subscriptions {
		if s.UserID == userID && s.IsActive && s.ExternalID != keepExternalID {
			s.IsActive = false
			s.Version++
			s.UpdatedAt = time.Now()
			r.s.data.subscriptions[id] = s
			n++
		}
	}
	return n, nil
}

func (r *Repo) findUser(match func(models.User) bool) (*models.User, error) {
	for _, u := range r.s.data.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Repo) FindUserByID(_ context.Context, id string) (*models.User, error) {
	unlock := r.lock()
	defer unlock()
	return r.findUser(func(u models.User) bool { return u.ID == id })
}

func (r *Repo) FindUserByExternalCustomerID(_ context.Context, customerID string) (*models.User, error) {
	unlock := r.lock()
	defer unlock()
	if err := r.fail("FindUserByExternalCustomerID"); err != nil {
		return nil, err
	}
	return r.findUser(func(u models.User) bool {
		return u.StripeCustomerID != nil && *u.StripeCustomerID == customerID
	})
}

func (r *Repo) FindUserByConnectedAccountID(_ context.Context, accountID string) (*models.User, error) {
	unlock := r.lock()
	defer unlock()
	return r.findUser(func(u models.User) bool {
		return u.ConnectedAccountID != nil && *u.ConnectedAccountID == accountID
	})
}

func (r *Repo) UpdateUser(_ context.Context, user *models.User) error {
	unlock := r.lock()
	defer unlock()
	if err := r.fail("UpdateUser"); err != nil {
		return err
	}
	r.hook("UpdateUser")
	cur, ok := r.s.data.users[user.ID]
	if !ok || cur.Version != user.Version {
		return repository.ErrConcurrentUpdate
	}
	user.Version++
	user.UpdatedAt = time.Now()
	r.s.data.users[user.ID] = *user
	return nil
}

func (r *Repo) CreateTransaction(_ context.Context, txn *models.Transaction) (bool, error) {
	unlock := r.lock()
	defer unlock()
	if err := r.fail("CreateTransaction"); err != nil {
		return false, err
	}
	for _, t := range r.s.data.transactions {
		if t.Type == txn.Type && t.ExternalRef == txn.ExternalRef {
			return false, nil
		}
	}
	if txn.ID == "" {
		txn.ID = tool.GenerateUUIDV7()
	}
	txn.CreatedAt, txn.UpdatedAt = time.Now(), time.Now()
	r.s.data.transactions[txn.ID] = *txn
	return true, nil
}

func paysFor(t models.Transaction, paymentIntentID, chargeID string) bool {
	byPI := paymentIntentID != "" && t.PaymentIntentID != nil && *t.PaymentIntentID == paymentIntentID
	byCharge := chargeID != "" && t.ChargeID != nil && *t.ChargeID == chargeID
	return byPI || byCharge
}

func (r *Repo) FindPaymentTransaction(_ context.Context, paymentIntentID, chargeID string) (*models.Transaction, error) {
	unlock := r.lock()
	defer unlock()
	var found *models.Transaction
	for _, t := range r.s.data.transactions {
		if t.Type == types.TransactionTypeRefund || !paysFor(t, paymentIntentID, chargeID) {
			continue
		}
		if found == nil || t.CreatedAt.Before(found.CreatedAt) {
			found = &t
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *Repo) RefundedAmount(_ context.Context, paymentIntentID, chargeID string) (decimal.Decimal, error) {
	unlock := r.lock()
	defer unlock()
	total := decimal.Zero
	for _, t := range r.s.data.transactions {
		if t.Type == types.TransactionTypeRefund && paysFor(t, paymentIntentID, chargeID) {
			total = total.Sub(t.Amount)
		}
	}
	return total, nil
}

func (r *Repo) MarkTransactionsRefunded(_ context.Context, paymentIntentID, chargeID string, at time.Time) (int64, error) {
	unlock := r.lock()
	defer unlock()
	var n int64
	for id, t := range r.s.data.transactions {
		if t.Type == types.TransactionTypeRefund || t.RefundedAt != nil {
			continue
		}
		if paysFor(t, paymentIntentID, chargeID) {
			t.RefundedAt = &at
			r.s.data.transactions[id] = t
			n++
		}
	}
	return n, nil
}

func (r *Repo) FindProject(_ context.Context, projectID string) (*models.Project, error) {
	unlock := r.lock()
	defer unlock()
	p, ok := r.s.data.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *Repo) UpdateProjectPaymentStatus(_ context.Context, projectID string, from, to types.PaymentStatus) (bool, error) {
	unlock := r.lock()
	defer unlock()
	if err := r.fail("UpdateProjectPaymentStatus"); err != nil {
		return false, err
	}
	r.hook("UpdateProjectPaymentStatus")
	p, ok := r.s.data.projects[projectID]
	if !ok || p.PaymentStatus != from {
		return false, nil
	}
	p.PaymentStatus = to
	r.s.data.projects[projectID] = p
	return true, nil
}

func (r *Repo) MarkProjectFilesDownloadable(_ context.Context, projectID string) (int64, error) {
	unlock := r.lock()
	defer unlock()
	var n int64
	for id, f := range r.s.data.files {
		if f.ProjectID == projectID && !f.IsDownloadable {
			f.IsDownloadable = true
			r.s.data.files[id] = f
			n++
		}
	}
	return n, nil
}

func (r *Repo) InsertProcessedEventIfAbsent(_ context.Context, ev *models.ProcessedEvent) (bool, error) {
	unlock := r.lock()
	defer unlock()
	if err := r.fail("InsertProcessedEventIfAbsent"); err != nil {
		return false, err
	}
	if _, ok := r.s.data.processedEvents[ev.EventID]; ok {
		return false, nil
	}
	r.s.data.processedEvents[ev.EventID] = *ev
	return true, nil
}

func (r *Repo) ProcessedEventExists(_ context.Context, eventID string) (bool, error) {
	unlock := r.lock()
	defer unlock()
	_, ok := r.s.data.processedEvents[eventID]
	return ok, nil
}

func (r *Repo) DeleteProcessedEvent(_ context.Context, eventID string) (bool, error) {
	unlock := r.lock()
	defer unlock()
	_, ok := r.s.data.processedEvents[eventID]
	delete(r.s.data.processedEvents, eventID)
	return ok, nil
}

func (r *Repo) CreateActivity(_ context.Context, a *models.Activity) error {
	unlock := r.lock()
	defer unlock()
	if err := r.fail("CreateActivity"); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = tool.GenerateUUIDV7()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.s.data.activities = append(r.s.data.activities, *a)
	return nil
}

func (r *Repo) Transaction(ctx context.Context, fn func(tx repository.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	snapshot := r.s.data.clone()
	if err := fn(&Repo{s: r.s, inTx: true}); err != nil {
		r.s.data = snapshot
		return err
	}
	return nil
}
