package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/crawler"
)

// JobEvent is published when a job reaches a terminal phase.
type JobEvent struct {
	RunID      string        `json:"run_id"`
	Query      string        `json:"query"`
	Slug       string        `json:"slug"`
	Phase      crawler.Phase `json:"phase"`
	Resumed    bool          `json:"resumed"`
	Cursor     int           `json:"cursor"`
	Backlog    int           `json:"backlog"`
	Results    int           `json:"results"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// NewJobEvent builds the event for a finished job.
func NewJobEvent(runID string, res Result, err error, at time.Time) JobEvent {
	ev := JobEvent{
		RunID:      runID,
		Query:      res.Job.Query,
		Slug:       res.Job.Slug,
		Phase:      res.Phase,
		Resumed:    res.Resumed,
		OccurredAt: at,
	}
	if res.State != nil {
		ev.Cursor = res.State.Cursor
		ev.Backlog = len(res.State.Backlog)
		ev.Results = len(res.State.Results)
		ev.Failed = res.State.Failed
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// Attributes exposes the slug and phase as message attributes.
func (e JobEvent) Attributes() map[string]string {
	return map[string]string{
		"run_id": e.RunID,
		"slug":   e.Slug,
		"phase":  string(e.Phase),
	}
}

func (r *Runner) notify(ctx context.Context, runID string, res Result, err error) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	ev := NewJobEvent(runID, res, err, r.clock.Now())
	msgID, pubErr := r.publisher.Publish(context.WithoutCancel(ctx), r.cfg.Topic, ev)
	if pubErr != nil {
		r.logger.Warn("publish job event", zap.String("slug", ev.Slug), zap.Error(pubErr))
		return
	}
	r.logger.Debug("job event published", zap.String("slug", ev.Slug), zap.String("message_id", msgID))
}
