package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// GlobalMax is the maximum number of tasks running at once.
	GlobalMax int `mapstructure:"global_max"`
	// PollInterval is how often the queue is checked without a notification.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ByConnector defines per-connector concurrency limits.
	ByConnector map[string]int `mapstructure:"by_connector"`
	// ForceCancel interrupts the running executor on cancel instead of
	// waiting for it to exit.
	ForceCancel bool `mapstructure:"force_cancel"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		GlobalMax:    10,
		PollInterval: time.Second,
		ByConnector: map[string]int{
			"localexec": 5,
			"docker":    10,
		},
		ForceCancel: true,
	}
}

// GetConnectorLimit returns the concurrency limit for a connector.
func (c *Config) GetConnectorLimit(connectorName string) int {
	if limit, ok := c.ByConnector[connectorName]; ok {
		return limit
	}
	// Default limit if not specified
	return c.GlobalMax
}
