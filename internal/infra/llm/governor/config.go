package governor

import (
	"time"

	"github.com/vietddude/athena/internal/infra/llm/breaker"
)

// Config is the rate limit policy. It is fixed for the life of a Governor;
// build a new Governor to change it.
type Config struct {
	// MinInterval is the minimum spacing between dispatches.
	MinInterval time.Duration `yaml:"min_interval"`

	// MaxRetries caps provider attempts for a request that keeps failing
	// with RateLimit or Transient. Zero still makes a single attempt.
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Jitter         bool          `yaml:"jitter"`

	// BatchSize requests share one dispatch slot when they arrive within
	// BatchTimeout of the first.
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// CallTimeout bounds each provider attempt.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// QueueSize is the dispatcher buffer.
	QueueSize int `yaml:"queue_size"`

	Breaker breaker.Config `yaml:"breaker"`
}

// DefaultConfig provides the production defaults.
var DefaultConfig = Config{
	MinInterval:    20 * time.Second,
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     32 * time.Second,
	Jitter:         true,
	BatchSize:      1,
	BatchTimeout:   0,
	CallTimeout:    30 * time.Second,
	QueueSize:      64,
	Breaker:        breaker.DefaultConfig,
}

// withDefaults fills zero values that have no meaningful zero setting.
// MinInterval, MaxRetries and BatchTimeout keep an explicit zero.
func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultConfig.CallTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultConfig.QueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}
