// internal/workers/inventory/stock-alert-sweep/config.go
package stockalert

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 60 * time.Second,
	}
}
