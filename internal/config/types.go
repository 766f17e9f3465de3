package config

// Config is the full process configuration. Durations are Go duration
// strings (e.g. "30s", "1h"); see ParseDurationField.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Broadcast BroadcastConfig `json:"broadcast"`
	News      NewsConfig      `json:"news"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
}

// BroadcastConfig controls the periodic push of generated items.
//
// Schedule accepts an interval ("55m", "02:30") or a cron expression
// ("0 * * * *", "@hourly"). InitialDelay arms a one-shot broadcast after
// startup in addition to the recurring schedule.
type BroadcastConfig struct {
	Enabled      bool   `json:"enabled"`
	Schedule     string `json:"schedule,omitempty"`
	InitialDelay string `json:"initial_delay,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	RetryMax     int    `json:"retry_max,omitempty"`
}

// NewsConfig bounds the news surface per subscriber.
type NewsConfig struct {
	PageSize         int `json:"page_size,omitempty"`
	MaxCategories    int `json:"max_categories,omitempty"`
	MaxMessageLength int `json:"max_message_length,omitempty"`

	// ResetOnStart controls whether /start overwrites an existing
	// subscriber's customization (category set, notifications flag).
	ResetOnStart *bool `json:"reset_on_start,omitempty"`
}

// Defaults mirrored from the reference deployment.
const (
	DefaultPageSize         = 5
	DefaultMaxCategories    = 10
	DefaultMaxMessageLength = 4096
	DefaultSchedule         = "1h"
	DefaultInitialDelay     = "5m"
	DefaultRatePerSec       = 20
	DefaultRetryMax         = 3
)

func (c *BroadcastConfig) EffectiveSchedule() string {
	if c.Schedule != "" {
		return c.Schedule
	}
	return DefaultSchedule
}

func (c *BroadcastConfig) EffectiveInitialDelay() string {
	if c.InitialDelay != "" {
		return c.InitialDelay
	}
	return DefaultInitialDelay
}

func (c *BroadcastConfig) EffectiveRatePerSec() int {
	if c.RatePerSec > 0 {
		return c.RatePerSec
	}
	return DefaultRatePerSec
}

func (c *BroadcastConfig) EffectiveRetryMax() int {
	if c.RetryMax > 0 {
		return c.RetryMax
	}
	return DefaultRetryMax
}

func (c *NewsConfig) EffectivePageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return DefaultPageSize
}

func (c *NewsConfig) EffectiveMaxCategories() int {
	if c.MaxCategories > 0 {
		return c.MaxCategories
	}
	return DefaultMaxCategories
}

func (c *NewsConfig) EffectiveMaxMessageLength() int {
	if c.MaxMessageLength > 0 {
		return c.MaxMessageLength
	}
	return DefaultMaxMessageLength
}

func (c *NewsConfig) EffectiveResetOnStart() bool {
	if c.ResetOnStart == nil {
		return true
	}
	return *c.ResetOnStart
}
