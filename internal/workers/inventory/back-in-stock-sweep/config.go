// internal/workers/inventory/back-in-stock-sweep/config.go
package backinstock

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 60 * time.Second,
	}
}
