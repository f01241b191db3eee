// Package migration implements the dual-collection embedding migration
// state machine: replacing the active embedding model without downtime or
// quality regression, with quality-gated advancement and rollback.
package migration

import "time"

// Config holds the tunables that drive gate evaluation and batch pacing.
type Config struct {
	Enabled          bool
	QualityThreshold float64 // advance to FULL once rolling quality >= this, default 0.75
	RollbackThreshold float64 // roll back once rolling quality < this, default 0.6
	MaxTimeHours     int     // wall-clock ceiling for the whole migration, default 24
	BatchSize        int     // GRADUAL re-embed batch size, default 100
	CanaryFraction   float64 // fraction of retrieve calls sampled during CANARY, default 0.05
	ProbeWindow      int     // minimum probes before the rolling mean gate applies, default 50
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		QualityThreshold:  0.75,
		RollbackThreshold: 0.6,
		MaxTimeHours:      24,
		BatchSize:         100,
		CanaryFraction:    0.05,
		ProbeWindow:       50,
	}
}

func (c Config) maxTime() time.Duration {
	return time.Duration(c.MaxTimeHours) * time.Hour
}

// backoffSequence is the exact fixed retry delay sequence for GRADUAL batch
// re-embed failures: 250ms, 500ms, 1s, 2s, 4s, then the batch is abandoned
// and its ids deferred to the end of GRADUAL.
var backoffSequence = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}
