package model

// FilterConfig holds the admission rules applied to every fetched record.
type FilterConfig struct {
	AllowedSenders    []string      `mapstructure:"allowed-senders" yaml:"allowed-senders"`
	BlockedSenders    []string      `mapstructure:"blocked-senders" yaml:"blocked-senders"`
	BusinessHoursOnly bool          `mapstructure:"business-hours-only" yaml:"business-hours-only"`
	BusinessHours     BusinessHours `mapstructure:"business-hours" yaml:"business-hours"`
	BusinessDays      []int         `mapstructure:"business-days" yaml:"business-days"` // 0 = Monday ... 6 = Sunday
	Timezone          string        `mapstructure:"timezone" yaml:"timezone"`
}

// BusinessHours is a half-open [Start, End) window of local hours.
type BusinessHours struct {
	Start int `mapstructure:"start" yaml:"start"`
	End   int `mapstructure:"end" yaml:"end"`
}
