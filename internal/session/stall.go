package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/exchron/exchron-engine/pkg/logger"
)

// StallMonitor periodically sweeps for running sessions that stopped
// reporting progress and hands them to the service for normalization.
// It covers the restart case, where a session rehydrated from the store
// claims to be running with no trainer behind it.
type StallMonitor struct {
	service  *Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewStallMonitor(service *Service, interval time.Duration) *StallMonitor {
	return &StallMonitor{
		service:  service,
		interval: interval,
		logger:   logger.WithComponent("stall_monitor"),
	}
}

// Start blocks until the context is cancelled, sweeping once per
// interval. Run it in its own goroutine.
func (m *StallMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval).Msg("Starting stall monitor")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Stopping stall monitor")
			return
		case <-ticker.C:
			if normalized := m.service.NormalizeStalled(); normalized > 0 {
				m.logger.Warn().
					Int("normalized", normalized).
					Msg("Normalized stalled sessions")
			}
		}
	}
}
