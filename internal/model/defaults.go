package model

import "time"

// Shared defaults used by the config layer and the CLI.
const (
	DefaultPollInterval       = 60 * time.Second
	DefaultFetchLimit         = 50
	DefaultWebhookInterval    = 1500 * time.Millisecond
	DefaultSendTimeout        = 30 * time.Second
	DefaultQueryTimeout       = 10 * time.Second
	DefaultDigestInterval     = 30 * time.Minute
	DefaultBusinessHoursStart = 8
	DefaultBusinessHoursEnd   = 18
	DefaultLedgerRetention    = 30 // days, 0 = disabled
)

// DefaultBusinessDays is Monday through Friday (0 = Monday).
func DefaultBusinessDays() []int {
	return []int{0, 1, 2, 3, 4}
}
