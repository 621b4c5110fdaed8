package types

// PlanItem is one row of the configured plan catalog.
type PlanItem struct {
	PriceID string `json:"price_id" mapstructure:"price_id"`
	Plan    string `json:"plan" mapstructure:"plan"`
	// Rank orders plans by capability; higher is more capable.
	Rank              int    `json:"rank" mapstructure:"rank"`
	StorageLimitBytes int64  `json:"storage_limit_bytes" mapstructure:"storage_limit_bytes"`
	Interval          string `json:"interval" mapstructure:"interval"`
}

type LateralChangePolicy string

const (
	LateralChangeSchedule LateralChangePolicy = "schedule"
	LateralChangeReject   LateralChangePolicy = "reject"
)
