package config

import (
	"fmt"
	"strings"
)

// Validate checks static bounds. Schedule strings are validated by the
// scheduler, which owns their grammar.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("broadcast.initial_delay", c.Broadcast.InitialDelay); err != nil {
		return err
	}
	if c.Broadcast.RatePerSec < 0 {
		return fmt.Errorf("broadcast.rate_per_sec must be >= 0")
	}
	if c.Broadcast.RetryMax < 0 {
		return fmt.Errorf("broadcast.retry_max must be >= 0")
	}
	if c.News.PageSize < 0 {
		return fmt.Errorf("news.page_size must be >= 0")
	}
	if c.News.MaxCategories < 0 {
		return fmt.Errorf("news.max_categories must be >= 0")
	}
	if c.News.MaxMessageLength < 0 {
		return fmt.Errorf("news.max_message_length must be >= 0")
	}
	return nil
}
