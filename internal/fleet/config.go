package fleet

import "time"

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCallTimeout    = 15 * time.Second
)

// Config bundles everything the dispatcher needs to stand up its channels,
// breaker, and queue. It is assembled from internal/config.Config by the
// caller that owns process startup.
type Config struct {
	ConnectTimeout time.Duration
	CallTimeout    time.Duration

	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerHalfOpenMaxCalls int
	BreakerSuccessThreshold int

	QueueFlushInterval time.Duration
	QueueMaxBatchSize  int
	QueueMaxWaitTime   time.Duration
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (c Config) callTimeout() time.Duration {
	if c.CallTimeout > 0 {
		return c.CallTimeout
	}
	return DefaultCallTimeout
}
