// Package integrity runs periodic verification of the audit chain so that
// store-level corruption is surfaced long before a client asks for proof.
package integrity

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds integrity check configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
}

// Verifier re-derives the audit hash chain and reports the first break.
type Verifier interface {
	VerifyAuditChain(ctx context.Context) error
	AuditCount(ctx context.Context) (int, error)
}

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(success bool)

// AlertFunc is an optional callback invoked when a check fails.
type AlertFunc func(entries int, err error)

// Checker periodically verifies the full audit chain.
type Checker struct {
	verifier  Verifier
	cfg       Config
	onMetrics MetricsRecordFunc
	onAlert   AlertFunc
	logger    *zap.Logger

	mu       sync.Mutex
	lastRun  time.Time
	lastErr  error
	checked  int
}

// New creates a Checker with defaults applied.
func New(verifier Verifier, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 30 * time.Second
	}
	return &Checker{
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// SetAlert configures the failure callback.
func (c *Checker) SetAlert(fn AlertFunc) {
	c.onAlert = fn
}

// Start runs the verification loop until quit is signalled.
func (c *Checker) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Check(context.Background())
		case <-quit:
			return
		}
	}
}

// Check runs one full chain verification and records the outcome.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	entries, countErr := c.verifier.AuditCount(ctx)
	if countErr != nil {
		c.logger.Error("integrity: audit count", zap.Error(countErr))
		return countErr
	}

	err := c.verifier.VerifyAuditChain(ctx)

	c.mu.Lock()
	c.lastRun = time.Now().UTC()
	c.lastErr = err
	c.checked = entries
	c.mu.Unlock()

	if c.onMetrics != nil {
		c.onMetrics(err == nil)
	}

	if err != nil {
		c.logger.Error("integrity: audit chain verification failed",
			zap.Int("entries", entries),
			zap.Error(err),
		)
		if c.onAlert != nil {
			c.onAlert(entries, err)
		}
		return err
	}

	c.logger.Debug("integrity: audit chain verified",
		zap.Int("entries", entries),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Status reports the outcome of the most recent check. lastRun is zero
// until a check has run; err is non-nil if the last check found a break.
func (c *Checker) Status() (lastRun time.Time, entries int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.checked, c.lastErr
}
