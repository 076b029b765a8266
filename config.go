package amqtx

import (
	"errors"

	"pkt.systems/amqtx/internal/clock"
	"pkt.systems/amqtx/internal/uuidv7"
	"pkt.systems/pslog"
)

// Config configures a TransactionContext.
type Config struct {
	// SessionID tags log events and metrics with the owning session's
	// identity. Generated when empty.
	SessionID string
	// Builder provisions coordinator links on demand. Required.
	Builder LinkBuilder
	// Logger receives structured events. Defaults to pslog.NoopLogger().
	Logger pslog.Logger
	// Clock drives exchange latency measurement. Defaults to clock.Real.
	Clock clock.Clock
}

func (cfg *Config) normalize() error {
	if cfg.Builder == nil {
		return errors.New("amqtx: link builder required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuidv7.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return nil
}
