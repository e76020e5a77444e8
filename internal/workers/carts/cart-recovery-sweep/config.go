// internal/workers/carts/cart-recovery-sweep/config.go
package cartrecovery

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
