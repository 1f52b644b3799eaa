// Package processing provides RecordProcessor implementations that stand in
// for the downstream charging integration.
package processing

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/billingapp/backend/internal/domain/billing"
	"go.uber.org/zap"
)

// ErrSimulatedFailure is returned when a simulated processing attempt fails.
var ErrSimulatedFailure = errors.New("simulated processing failure")

// SimulatedConfig tunes the simulated processor
type SimulatedConfig struct {
	// FailureRate is the probability in [0,1] that an attempt fails.
	FailureRate float64
	// MinLatency and MaxLatency bound the simulated processing time.
	MinLatency time.Duration
	MaxLatency time.Duration
}

// DefaultSimulatedConfig returns default configuration
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		FailureRate: 0.3,
		MinLatency:  10 * time.Millisecond,
		MaxLatency:  100 * time.Millisecond,
	}
}

// SimulatedProcessor emulates an external charging backend with bounded
// latency and a configurable failure rate. It honors context cancellation
// while sleeping.
type SimulatedProcessor struct {
	config SimulatedConfig
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedProcessor creates a new simulated processor
func NewSimulatedProcessor(config SimulatedConfig, logger *zap.Logger) *SimulatedProcessor {
	if config.FailureRate < 0 {
		config.FailureRate = 0
	}
	if config.FailureRate > 1 {
		config.FailureRate = 1
	}
	if config.MaxLatency < config.MinLatency {
		config.MaxLatency = config.MinLatency
	}
	return &SimulatedProcessor{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed fixes the random source, making outcomes reproducible.
func (p *SimulatedProcessor) WithSeed(seed int64) *SimulatedProcessor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rng = rand.New(rand.NewSource(seed))
	return p
}

// Process simulates one charging attempt for the record.
func (p *SimulatedProcessor) Process(ctx context.Context, record *billing.BillingRecord) error {
	latency, failed := p.roll()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if failed {
		p.logger.Debug("simulated processing failed",
			zap.String("record_id", record.ID),
			zap.Duration("latency", latency),
		)
		return ErrSimulatedFailure
	}

	p.logger.Debug("simulated processing succeeded",
		zap.String("record_id", record.ID),
		zap.Duration("latency", latency),
	)
	return nil
}

func (p *SimulatedProcessor) roll() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	latency := p.config.MinLatency
	if span := p.config.MaxLatency - p.config.MinLatency; span > 0 {
		latency += time.Duration(p.rng.Int63n(int64(span)))
	}
	return latency, p.rng.Float64() < p.config.FailureRate
}
