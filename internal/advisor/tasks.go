package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/lpadvisor/internal/scheduler"
)

const (
	TaskMonitorPositions = "monitor_positions"
	TaskRefreshSignals   = "refresh_signals"
	TaskExpirePending    = "expire_pending"
)

// Intervals sets how often each background task runs. A zero interval disables the task.
type Intervals struct {
	Monitor       time.Duration
	SignalRefresh time.Duration
	ExpirePending time.Duration
}

// RegisterTasks adds the advisor's periodic work to s.
func (a *Advisor) RegisterTasks(s *scheduler.Scheduler, iv Intervals) error {
	tasks := []scheduler.Task{
		{
			Name:           TaskMonitorPositions,
			Interval:       iv.Monitor,
			RunImmediately: true,
			Run: func(ctx context.Context) error {
				a.MonitorPositions(ctx)
				return nil
			},
		},
		{
			Name:           TaskRefreshSignals,
			Interval:       iv.SignalRefresh,
			RunImmediately: true,
			Run:            a.RefreshSignals,
		},
		{
			Name:     TaskExpirePending,
			Interval: iv.ExpirePending,
			Run: func(ctx context.Context) error {
				_, err := a.lifecycle.ExpirePending(ctx)
				return err
			},
		},
	}

	var errs []error
	for _, t := range tasks {
		if t.Interval <= 0 {
			a.logger.Info().Str("task", t.Name).Msg("Task disabled")
			continue
		}
		if err := s.Register(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshSignals appends a fresh composite signal for every tracked pool.
func (a *Advisor) RefreshSignals(ctx context.Context) error {
	pools, err := a.loadPools(ctx)
	if err != nil {
		return fmt.Errorf("refreshing signals: %w", err)
	}
	_, err = a.aggregator.Refresh(ctx, pools)
	return err
}

// HealthReport is what the health endpoint shows.
type HealthReport struct {
	Healthy         bool   `json:"healthy"`
	ProviderHealthy bool   `json:"provider_healthy"`
	Strategy        string `json:"strategy"`
	Degraded        bool   `json:"degraded"`
	DegradedReason  string `json:"degraded_reason,omitempty"`
	ActiveSessions  int    `json:"active_sessions"`
}

// Health reports provider reachability and the broker's strategy. The advisor stays healthy
// while degraded; only the provider being down marks it unhealthy.
func (a *Advisor) Health(ctx context.Context) HealthReport {
	down, reason := a.broker.Downgraded()
	provider := a.provider.CheckHealth(ctx)
	return HealthReport{
		Healthy:         provider,
		ProviderHealthy: provider,
		Strategy:        a.broker.StrategyName(),
		Degraded:        down,
		DegradedReason:  reason,
		ActiveSessions:  a.sessions.Len(),
	}
}

// ReloadModel asks the broker to load the latest agent again.
func (a *Advisor) ReloadModel() error {
	return a.broker.ReloadModel()
}
