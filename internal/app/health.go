package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"nallo/api/internal/logger"
)

const (
	HealthHealthy      = "healthy"
	HealthUnhealthy    = "unhealthy"
	ProbeConnected     = "connected"
	ProbeDisconnected  = "disconnected"
	defaultHealthProbe = 5 * time.Second
)

type ProbeStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthReport struct {
	Status     string      `json:"status"`
	GraphDB    ProbeStatus `json:"graphdb"`
	PostgreSQL ProbeStatus `json:"postgresql"`
}

func (r HealthReport) Healthy() bool {
	return r.Status == HealthHealthy
}

// disconnectedReport is served when the report itself cannot be built.
func disconnectedReport() HealthReport {
	return HealthReport{
		Status:     HealthUnhealthy,
		GraphDB:    ProbeStatus{Status: ProbeDisconnected},
		PostgreSQL: ProbeStatus{Status: ProbeDisconnected},
	}
}

// CheckHealth pings both stores in parallel, each under its own timeout.
// It never fails: probe errors and panics become disconnected statuses.
func (s *Service) CheckHealth(ctx context.Context) HealthReport {
	timeout := s.cfg.HealthTimeout
	if timeout <= 0 {
		timeout = defaultHealthProbe
	}

	var report HealthReport
	var g errgroup.Group
	g.Go(func() error {
		report.GraphDB = probe(ctx, timeout, "graphdb", func(c context.Context) error { return s.graph.Ping(c) })
		return nil
	})
	g.Go(func() error {
		report.PostgreSQL = probe(ctx, timeout, "postgresql", func(c context.Context) error { return s.content.Ping(c) })
		return nil
	})
	_ = g.Wait()

	report.Status = HealthUnhealthy
	if report.GraphDB.Status == ProbeConnected && report.PostgreSQL.Status == ProbeConnected {
		report.Status = HealthHealthy
	}
	return report
}

func probe(ctx context.Context, timeout time.Duration, name string, ping func(context.Context) error) (status ProbeStatus) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Sugar.Errorw("health probe panicked", "probe", name, "panic", recovered)
			status = ProbeStatus{Status: ProbeDisconnected, Error: fmt.Sprintf("probe panicked: %v", recovered)}
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ping(probeCtx); err != nil {
		logger.Sugar.Warnw("health probe failed", "probe", name, "error", err)
		return ProbeStatus{Status: ProbeDisconnected, Error: err.Error()}
	}
	return ProbeStatus{Status: ProbeConnected}
}
