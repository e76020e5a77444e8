// internal/workers/carts/cart-lifecycle-sweep/config.go
package cartlifecycle

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
