package plan_catalog

import (
	"errors"
	"fmt"

	"github.com/fatflowers/stembill/pkg/config"
	"github.com/fatflowers/stembill/pkg/types"
	"go.uber.org/fx"
)

var ErrUnknownPrice = errors.New("plan catalog: unknown price id")

// FreeRank is the rank of the free tier and of any unrecognized price.
const FreeRank = 0

type ChangeKind string

const (
	ChangeNone      ChangeKind = "none"
	ChangeUpgrade   ChangeKind = "upgrade"
	ChangeDowngrade ChangeKind = "downgrade"
	// ChangeLateral is an equal-rank change such as monthly to yearly.
	ChangeLateral ChangeKind = "lateral"
)

// Catalog maps Stripe price ids to plans. It is read-only after construction.
type Catalog struct {
	byPrice   map[string]types.PlanItem
	freeLimit int64
}

func New(plans []*types.PlanItem, freeStorageLimit int64) (*Catalog, error) {
	c := &Catalog{byPrice: make(map[string]types.PlanItem, len(plans)), freeLimit: freeStorageLimit}
	for _, p := range plans {
		if p == nil {
			continue
		}
		if _, dup := c.byPrice[p.PriceID]; dup {
			return nil, fmt.Errorf("plan catalog: duplicate price id %q", p.PriceID)
		}
		c.byPrice[p.PriceID] = *p
	}
	return c, nil
}

func NewFromConfig(cfg *config.Config) (*Catalog, error) {
	return New(cfg.Billing.Plans, cfg.Billing.FreeStorageLimitBytes)
}

// Lookup returns the plan for priceID.
func (c *Catalog) Lookup(priceID string) (types.PlanItem, error) {
	p, ok := c.byPrice[priceID]
	if !ok {
		return types.PlanItem{}, fmt.Errorf("%w: %s", ErrUnknownPrice, priceID)
	}
	return p, nil
}

// Rank returns the tier rank of priceID, FreeRank when unknown.
func (c *Catalog) Rank(priceID string) int {
	if p, ok := c.byPrice[priceID]; ok {
		return p.Rank
	}
	return FreeRank
}

// StorageLimit returns the storage ceiling of priceID in bytes, falling back
// to the free-tier ceiling for unknown ids.
func (c *Catalog) StorageLimit(priceID string) int64 {
	if p, ok := c.byPrice[priceID]; ok {
		return p.StorageLimitBytes
	}
	return c.freeLimit
}

func (c *Catalog) FreeStorageLimit() int64 { return c.freeLimit }

// IsUpgrade is true when coming from the free tier (current nil) or when the
// new price ranks strictly higher.
func (c *Catalog) IsUpgrade(currentPriceID *string, newPriceID string) bool {
	if currentPriceID == nil {
		return true
	}
	return c.Rank(newPriceID) > c.Rank(*currentPriceID)
}

// Classify sorts a plan change into upgrade, downgrade or lateral. Equal rank
// with a different price is lateral and never an upgrade.
func (c *Catalog) Classify(currentPriceID *string, newPriceID string) ChangeKind {
	switch {
	case currentPriceID != nil && *currentPriceID == newPriceID:
		return ChangeNone
	case c.IsUpgrade(currentPriceID, newPriceID):
		return ChangeUpgrade
	case c.Rank(newPriceID) == c.Rank(*currentPriceID):
		return ChangeLateral
	default:
		return ChangeDowngrade
	}
}

var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
