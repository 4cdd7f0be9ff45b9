package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper closes idle sessions. Implemented by service.Manager.
type Sweeper interface {
	Sweep(ctx context.Context, idle time.Duration) []string
	Len() int
}

// Config holds health monitoring configuration
type Config struct {
	CheckInterval time.Duration
	IdleTimeout   time.Duration
}

// Monitor runs background health checks
type Monitor struct {
	sessions Sweeper
	config   Config
	logger   zerolog.Logger
}

// NewMonitor creates a new health monitor
func NewMonitor(sessions Sweeper, config Config, logger zerolog.Logger) *Monitor {
	return &Monitor{
		sessions: sessions,
		config:   config,
		logger:   logger,
	}
}

// Start begins the health monitoring loop
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("check_interval", m.config.CheckInterval).
		Dur("idle_timeout", m.config.IdleTimeout).
		Msg("Starting health monitor")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Health monitor stopped")
			return
		case <-ticker.C:
			m.checkIdleSessions(ctx)
		}
	}
}

func (m *Monitor) checkIdleSessions(ctx context.Context) []string {
	closed := m.sessions.Sweep(ctx, m.config.IdleTimeout)
	for _, id := range closed {
		m.logger.Warn().
			Str("session_id", id).
			Dur("idle_timeout", m.config.IdleTimeout).
			Msg("Closed idle session")
	}
	m.logger.Debug().
		Int("closed", len(closed)).
		Int("open", m.sessions.Len()).
		Msg("Checked session health")
	return closed
}
