package store

import (
	"log/slog"
	"time"
)

// Config holds configuration for the Store.
type Config struct {
	// Logger receives commit, conflict and dangling-member logs.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics records operation counts and latencies. Nil disables metrics.
	Metrics *Metrics

	// LoadConcurrency bounds parallel record loads in FindAll.
	// Default: 8
	// Max: 256
	LoadConcurrency int

	// Now supplies audit timestamps and default index scores.
	// Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logger:          slog.Default(),
		LoadConcurrency: 8,
		Now:             time.Now,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.LoadConcurrency < 1 {
		c.LoadConcurrency = 8
	}
	if c.LoadConcurrency > 256 {
		c.LoadConcurrency = 256
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CollectionConfig holds per-collection policy. It is captured when the
// collection is created and never changes afterwards.
type CollectionConfig struct {
	// IDField names the identity field of mapping documents.
	// Default: "id"
	IDField string

	// EnableAudit stamps createdAt/createdBy/updatedAt/updatedBy on mapping documents.
	EnableAudit bool

	// IDGenerator produces ids for new records before prefixing.
	// Default: UUIDGenerator
	IDGenerator IDGenerator

	// Score returns the index score for a newly indexed record.
	// Default: insertion time in microseconds. Use ZeroScore for membership only.
	Score func(*Record) float64

	// Validator, if set, checks every document before it is written.
	Validator Validator
}

func (c *CollectionConfig) validate() {
	if c.IDField == "" {
		c.IDField = "id"
	}
	if c.IDGenerator == nil {
		c.IDGenerator = UUIDGenerator
	}
}
