package models

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Subscription{},
		&Transaction{},
		&Project{},
		&ProjectFile{},
		&ProcessedEvent{},
		&Activity{},
		&WebhookEventLog{},
	}
}
