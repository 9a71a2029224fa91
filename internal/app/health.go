package app

import (
	"context"

	"feedrelay/internal/runtime/supervisor"
)

type healthReport struct {
	Status         string              `json:"status"`
	Feeds          int                 `json:"feeds"`
	QueueDepth     int                 `json:"queue_depth"`
	QueueCap       int                 `json:"queue_cap"`
	Unposted       int                 `json:"unposted"`
	ReportsDropped uint64              `json:"reports_dropped"`
	Supervisor     supervisor.Snapshot `json:"supervisor"`
}

// health backs /healthz. A failing store turns the check red.
func (a *App) health(ctx context.Context) (any, error) {
	n, err := a.store.CountUnposted(ctx)
	if err != nil {
		return nil, err
	}
	h := healthReport{
		Status:         "ok",
		QueueDepth:     a.queue.Len(),
		QueueCap:       a.queue.Cap(),
		Unposted:       n,
		ReportsDropped: a.reporter.Dropped(),
		Supervisor:     a.sup.Snapshot(),
	}
	if a.feeds != nil {
		h.Feeds = a.feeds.Len()
	}
	if h.Supervisor.FirstError != "" {
		h.Status = "degraded"
	}
	return h, nil
}
