package config

import "time"

type Limits struct {
	GatewayRetries int             `yaml:"gateway_retries" validate:"required,min=1,max=10"`
	BaseBackoff    time.Duration   `yaml:"base_backoff" validate:"required,min=1ms,max=1m"`
	MaxBackoff     time.Duration   `yaml:"max_backoff" validate:"required,gtefield=BaseBackoff,max=10m"`
	StageAttempts  int             `yaml:"stage_attempts" validate:"required,min=1,max=10"`
	Variations     int             `yaml:"variations" validate:"required,min=1,max=3"`
	MaxAttempts    int             `yaml:"max_attempts" validate:"required,min=1,max=10"`
	Workers        int             `yaml:"workers" validate:"required,min=1,max=32"`
	PollInterval   time.Duration   `yaml:"poll_interval" validate:"required,min=100ms,max=1h"`
	RunTimeout     time.Duration   `yaml:"run_timeout" validate:"required,min=1m,max=24h"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" validate:"required"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"required,min=1,max=1000"`
	BurstSize         int `yaml:"burst_size" validate:"required,min=1,max=100"`
}

// QAConfig holds the decision thresholds of the QA gate.
type QAConfig struct {
	ApproveThreshold int     `yaml:"approve_threshold" validate:"required,min=1,max=100"`
	RejectThreshold  int     `yaml:"reject_threshold" validate:"min=0,max=100"`
	ValuesThreshold  float64 `yaml:"values_threshold" validate:"required,min=1,max=5"`
}

func DefaultLimits() Limits {
	return Limits{
		GatewayRetries: 3,
		BaseBackoff:    time.Second,
		MaxBackoff:     30 * time.Second,
		StageAttempts:  3,
		Variations:     3,
		MaxAttempts:    2,
		Workers:        2,
		PollInterval:   10 * time.Second,
		RunTimeout:     2 * time.Hour,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
	}
}

func DefaultQA() QAConfig {
	return QAConfig{
		ApproveThreshold: 85,
		RejectThreshold:  70,
		ValuesThreshold:  3.0,
	}
}
