package bulkhead

import (
	"fmt"
	"runtime"
	"time"

	"github.com/kbukum/bulwark/validation"
)

// Default configuration values.
const (
	DefaultMaxConcurrentCalls = 25
	DefaultMaxQueueSize       = 0
	DefaultKeepAliveDuration  = 20 * time.Millisecond
	DefaultQueueCapacity      = 0
)

// Config describes one bulkhead's limits. Build it with a Builder; a Config
// that came out of Build or passed Validate is never modified afterwards.
type Config struct {
	// MaxConcurrentCalls bounds calls that may run at once.
	MaxConcurrentCalls int
	// MaxQueueSize bounds calls admitted on top of MaxConcurrentCalls that
	// wait for a worker.
	MaxQueueSize int
	// CoreThreads workers are kept alive while idle.
	CoreThreads int
	// MaxThreads bounds the worker pool.
	MaxThreads int
	// KeepAliveDuration is how long workers above CoreThreads may idle.
	KeepAliveDuration time.Duration
	// QueueCapacity bounds the pool's hand-off queue. 0 leaves the queue
	// bounded by MaxConcurrentCalls+MaxQueueSize alone.
	QueueCapacity int
	// MaxWaitDuration is how long admission may wait for a slot. 0 rejects at once.
	MaxWaitDuration time.Duration
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		MaxConcurrentCalls: DefaultMaxConcurrentCalls,
		MaxQueueSize:       DefaultMaxQueueSize,
		CoreThreads:        n,
		MaxThreads:         n,
		KeepAliveDuration:  DefaultKeepAliveDuration,
		QueueCapacity:      DefaultQueueCapacity,
	}
}

// Validate checks the configuration bounds and returns an
// INVALID_CONFIGURATION error naming the first violated field.
func (c Config) Validate() error {
	return validation.New().
		Positive("max_concurrent_calls", c.MaxConcurrentCalls).
		NonNegative("max_queue_size", c.MaxQueueSize).
		NonNegative("core_thread_pool_size", c.CoreThreads).
		AtLeast("max_thread_pool_size", c.MaxThreads, 1).
		AtLeast("max_thread_pool_size", c.MaxThreads, c.CoreThreads).
		NonNegative("queue_capacity", c.QueueCapacity).
		NonNegativeDuration("keep_alive_duration", c.KeepAliveDuration).
		NonNegativeDuration("max_wait_duration", c.MaxWaitDuration).
		Validate()
}

// AdmissionLimit is the number of calls that may be in flight (running or
// queued) at once.
func (c Config) AdmissionLimit() int {
	limit := c.MaxConcurrentCalls + c.MaxQueueSize
	if c.QueueCapacity > 0 && c.workerLimit()+c.QueueCapacity < limit {
		limit = c.workerLimit() + c.QueueCapacity
	}
	return limit
}

// workerLimit is how many calls may run at once: one per worker, and never
// more than MaxConcurrentCalls however large the pool.
func (c Config) workerLimit() int {
	return min(c.MaxThreads, c.MaxConcurrentCalls)
}

// queueLimit is how many admitted calls may wait for a worker.
func (c Config) queueLimit() int {
	q := c.AdmissionLimit() - c.workerLimit()
	if q < 0 {
		return 0
	}
	return q
}

func (c Config) String() string {
	return fmt.Sprintf("maxConcurrentCalls=%d maxQueueSize=%d coreThreads=%d maxThreads=%d keepAlive=%s queueCapacity=%d maxWait=%s",
		c.MaxConcurrentCalls, c.MaxQueueSize, c.CoreThreads, c.MaxThreads, c.KeepAliveDuration, c.QueueCapacity, c.MaxWaitDuration)
}

// Builder assembles a validated Config.
type Builder struct {
	cfg     Config
	coreSet bool
	maxSet  bool
}

// NewBuilder starts from DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// BuilderFrom starts from an existing configuration. When cfg's core and
// max thread counts are equal they keep following each other, so
// overriding only one of them moves the other along.
func BuilderFrom(cfg Config) *Builder {
	pinned := cfg.CoreThreads != cfg.MaxThreads
	return &Builder{cfg: cfg, coreSet: pinned, maxSet: pinned}
}

func (b *Builder) MaxConcurrentCalls(n int) *Builder {
	b.cfg.MaxConcurrentCalls = n
	return b
}

func (b *Builder) MaxQueueSize(n int) *Builder {
	b.cfg.MaxQueueSize = n
	return b
}

func (b *Builder) CoreThreads(n int) *Builder {
	b.cfg.CoreThreads = n
	b.coreSet = true
	return b
}

func (b *Builder) MaxThreads(n int) *Builder {
	b.cfg.MaxThreads = n
	b.maxSet = true
	return b
}

func (b *Builder) KeepAliveDuration(d time.Duration) *Builder {
	b.cfg.KeepAliveDuration = d
	return b
}

func (b *Builder) QueueCapacity(n int) *Builder {
	b.cfg.QueueCapacity = n
	return b
}

func (b *Builder) MaxWaitDuration(d time.Duration) *Builder {
	b.cfg.MaxWaitDuration = d
	return b
}

// Build validates and returns the configuration. Unless set explicitly,
// CoreThreads follows MaxThreads, and MaxThreads grows to an explicit
// CoreThreads above the CPU count.
func (b *Builder) Build() (Config, error) {
	cfg := b.cfg
	if !b.coreSet {
		cfg.CoreThreads = cfg.MaxThreads
	}
	if !b.maxSet && cfg.CoreThreads > cfg.MaxThreads {
		cfg.MaxThreads = cfg.CoreThreads
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
