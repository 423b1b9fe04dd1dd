package orchestrator

import (
	"context"
	"time"

	"github.com/shaiso/slurmdag/internal/domain"
)

const recordTimeout = 10 * time.Second

// Recorder получает события запуска: журнал в БД, публикация в брокер.
// Ошибки Recorder логируются и не влияют на выполнение DAG.
type Recorder interface {
	RunStarted(ctx context.Context, info domain.RunInfo) error
	NodeChanged(ctx context.Context, ev domain.NodeEvent) error
	RunFinished(ctx context.Context, info domain.RunInfo, summary domain.RunSummary) error
}

func (o *Orchestrator) notifyStarted(ctx context.Context, info domain.RunInfo) {
	o.notify(ctx, "run started", func(ctx context.Context, r Recorder) error {
		return r.RunStarted(ctx, info)
	})
}

func (o *Orchestrator) notifyFinished(ctx context.Context, info domain.RunInfo, summary domain.RunSummary) {
	o.notify(ctx, "run finished", func(ctx context.Context, r Recorder) error {
		return r.RunFinished(ctx, info, summary)
	})
}

// flushEvents логирует накопленные переходы узлов и отдаёт их получателям.
func (o *Orchestrator) flushEvents(ctx context.Context) {
	for _, ev := range o.state.Events() {
		o.logger.Debug("node status changed",
			"node", ev.Node,
			"from", ev.From.String(),
			"to", ev.To.String(),
			"job_id", ev.JobID,
			"attempt", ev.Attempt,
		)
		o.notify(ctx, "node changed", func(ctx context.Context, r Recorder) error {
			return r.NodeChanged(ctx, ev)
		})
	}
}

func (o *Orchestrator) notify(ctx context.Context, what string, fn func(ctx context.Context, r Recorder) error) {
	for _, r := range o.recorders {
		callCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		err := fn(callCtx, r)
		cancel()
		if err != nil {
			o.logger.Warn("failed to record event", "event", what, "error", err)
		}
	}
}
