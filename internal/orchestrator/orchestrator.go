package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/slurmdag/internal/config"
	"github.com/shaiso/slurmdag/internal/domain"
	"github.com/shaiso/slurmdag/internal/engine"
	"github.com/shaiso/slurmdag/internal/rescue"
	"github.com/shaiso/slurmdag/internal/telemetry"
)

// Default configuration values.
const (
	defaultCancelRetries      = 5
	defaultCancelPollInterval = 60 * time.Second
)

// Scheduler — операции планировщика кластера, нужные движку.
type Scheduler interface {
	Submit(ctx context.Context, templatePath, node, runTag string) (string, error)
	QueryAccounting(ctx context.Context, jobIDs []string, runTag string, since time.Time) ([]domain.JobRecord, error)
	QueryQueue(ctx context.Context, runTag string) ([]domain.JobRecord, error)
	Cancel(ctx context.Context, runTag string) (string, error)
}

// RuntimeStore — runtime файл настроек, который движок перечитывает
// каждую итерацию.
type RuntimeStore interface {
	// Load возвращает прочитанные параметры. При ошибке возвращаются
	// параметры, которые удалось прочитать.
	Load() (config.Overrides, error)
	Save(p config.Params) error
}

// Orchestrator выполняет один DAG до завершения.
type Orchestrator struct {
	dag       *engine.DAG
	state     *RunState
	scheduler Scheduler
	store     RuntimeStore
	params    config.Params
	recorders []Recorder
	metrics   *telemetry.Metrics

	runID     uuid.UUID
	tag       string
	startedAt time.Time

	cancelRetries      int
	cancelPollInterval time.Duration

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger

	snapshot snapshotHolder
}

// Config — конфигурация Orchestrator.
type Config struct {
	// DAG — разобранный DAG. Orchestrator меняет его на месте.
	DAG *engine.DAG

	// Scheduler — клиент планировщика.
	Scheduler Scheduler

	// Store — runtime файл настроек (nil — без перечитывания).
	Store RuntimeStore

	// Params — начальные параметры.
	Params config.Params

	// Recorders — получатели событий запуска (журнал, брокер).
	Recorders []Recorder

	// Metrics — метрики (nil — без метрик).
	Metrics *telemetry.Metrics

	// RunID, RunTag, StartedAt — идентичность запуска (default: новые).
	RunID     uuid.UUID
	RunTag    string
	StartedAt time.Time

	// Cancel configuration
	CancelRetries      int           // попыток подтвердить cancel (default: 5)
	CancelPollInterval time.Duration // пауза между попытками (default: 60s)

	// Now, Sleep — часы и ожидание (default: time.Now и ожидание с ctx).
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator и выставляет начальные статусы узлов.
func New(cfg Config) *Orchestrator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = now()
	}

	runID := cfg.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}

	tag := cfg.RunTag
	if tag == "" {
		tag = RunTag(startedAt)
	}

	cancelRetries := cfg.CancelRetries
	if cancelRetries <= 0 {
		cancelRetries = defaultCancelRetries
	}

	cancelPoll := cfg.CancelPollInterval
	if cancelPoll <= 0 {
		cancelPoll = defaultCancelPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		dag:                cfg.DAG,
		state:              NewRunState(cfg.DAG, runID, now),
		scheduler:          cfg.Scheduler,
		store:              cfg.Store,
		params:             cfg.Params.Clamp(),
		recorders:          cfg.Recorders,
		metrics:            cfg.Metrics,
		runID:              runID,
		tag:                tag,
		startedAt:          startedAt,
		cancelRetries:      cancelRetries,
		cancelPollInterval: cancelPoll,
		now:                now,
		sleep:              sleep,
		logger:             telemetry.WithRunTag(logger, tag),
	}
	o.publish(nil)
	return o
}

// RunTag строит run tag из времени старта: slurmdag_<ISO, секунды, нижний регистр>.
func RunTag(start time.Time) string {
	return "slurmdag_" + strings.ToLower(start.Format("2006-01-02T15:04:05"))
}

// Info возвращает описание запуска.
func (o *Orchestrator) Info() domain.RunInfo {
	return domain.RunInfo{
		ID:         o.runID,
		Tag:        o.tag,
		DagFile:    o.dag.File,
		TotalNodes: o.dag.Size(),
		StartedAt:  o.startedAt,
	}
}

// State возвращает состояние узлов.
func (o *Orchestrator) State() *RunState {
	return o.state
}

// Params возвращает текущие параметры.
func (o *Orchestrator) Params() config.Params {
	return o.params
}

// Run выполняет DAG до завершения и возвращает итог.
//
// Отмена ctx (сигнал процессу) действует как cancel: на ближайшей границе
// итерации движок отменяет job и пишет rescue файл. Вызовы планировщика
// и записи не прерываются отменой ctx.
func (o *Orchestrator) Run(ctx context.Context) (domain.RunSummary, error) {
	work := context.WithoutCancel(ctx)
	info := o.Info()

	o.logger.Info("starting DAG",
		"dag_file", info.DagFile,
		"run_id", info.ID,
		"pid", os.Getpid(),
		"nodes", info.TotalNodes,
		"sleep_time", o.params.SleepTime,
	)
	o.notifyStarted(work, info)
	o.flushEvents(work)
	o.saveParams()

	outcome := o.loop(ctx, work)

	summary, err := o.finish(work, outcome)
	o.publish(&summary)
	o.metrics.ObserveOutcome(summary.Outcome)
	o.notifyFinished(work, info, summary)

	o.logger.Info("DAG finished",
		"outcome", summary.Outcome.String(),
		"done", summary.Counts.Done,
		"failed", summary.Counts.Failed,
		"duration", summary.Duration(info),
	)
	return summary, err
}

// activity — статистика job в очереди за один опрос.
type activity struct {
	running int
	pending int
	unknown int
}

// loop — главный цикл: опрос, решение, отправка, ожидание, перечитывание настроек.
func (o *Orchestrator) loop(ctx, work context.Context) domain.Outcome {
	for {
		if ctx.Err() != nil && !o.params.Cancel {
			o.logger.Info("shutdown requested, cancelling DAG")
			o.params.Cancel = true
		}

		o.metrics.IncIterations()
		act := o.monitor(work)
		o.flushEvents(work)

		counts := o.state.Stats()
		o.metrics.SetNodeCounts(counts)
		o.logCounts(counts, act)

		if counts.Ready > 0 && !o.params.Drain && !o.params.Cancel {
			o.submitReady(ctx, work)
			o.flushEvents(work)
		} else {
			switch {
			case counts.Done == counts.Total:
				o.logger.Info("DAG completed successfully")
				return domain.OutcomeSuccess
			case counts.Queued == 0 && counts.Failed > 0:
				o.logger.Info("DAG failed")
				return domain.OutcomeFailure
			case counts.Queued == 0:
				o.logger.Info("DAG stopped")
				return domain.OutcomeStopped
			}
		}

		if o.params.Cancel {
			return domain.OutcomeStopped
		}

		o.publish(nil)
		if err := o.sleep(ctx, seconds(o.params.SleepTime)); err != nil {
			o.logger.Debug("sleep interrupted", "error", err)
		}
		o.reload()
	}
}

// monitor опрашивает планировщик и переводит узлы по состояниям их job.
// При ошибке любого запроса переходов в этой итерации нет.
func (o *Orchestrator) monitor(ctx context.Context) activity {
	var act activity

	jobIDs := o.state.Outstanding()
	if len(jobIDs) == 0 {
		return act
	}

	start := time.Now()
	accounting, err := o.scheduler.QueryAccounting(ctx, jobIDs, o.tag, o.startedAt)
	o.metrics.ObserveSchedulerCall("accounting", time.Since(start), err)
	if err != nil {
		o.logger.Warn("failed to query accounting, skipping monitor pass", "error", err)
		return act
	}

	start = time.Now()
	queue, err := o.scheduler.QueryQueue(ctx, o.tag)
	o.metrics.ObserveSchedulerCall("queue", time.Since(start), err)
	if err != nil {
		o.logger.Warn("failed to query queue, skipping monitor pass", "error", err)
		return act
	}

	for _, rec := range MergeRecords(accounting, queue) {
		id, ok := o.state.NodeForJob(rec.JobID)
		if !ok {
			continue
		}
		logger := telemetry.WithNode(o.logger, id).With("job_id", rec.JobID)

		switch domain.ClassifyState(rec.State) {
		case domain.JobPending:
			act.pending++
		case domain.JobRunning:
			act.running++
		case domain.JobUnknown:
			act.unknown++
		case domain.JobCompleted:
			logger.Info("node completed", "location", rec.Location)
			ready, err := o.state.MarkDone(id)
			if err != nil {
				logger.Error("failed to mark node done", "error", err)
				continue
			}
			if len(ready) > 0 {
				logger.Debug("children ready", "children", ready)
			}
		default:
			o.handleJobFailure(logger, id, rec)
		}
	}
	return act
}

func (o *Orchestrator) handleJobFailure(logger *slog.Logger, id string, rec domain.JobRecord) {
	exit := "undefined"
	if rec.HasExitCode {
		exit = fmt.Sprint(rec.ExitCode)
	}
	if rec.State == "FAILED" {
		logger.Info("node failed", "exit_code", exit)
	} else {
		logger.Info("node assumed failed", "state", rec.State, "exit_code", exit)
	}

	if o.state.CanRetry(id, rec.ExitCode, rec.HasExitCode) {
		if err := o.state.MarkReady(id); err != nil {
			logger.Error("failed to mark node ready", "error", err)
			return
		}
		o.metrics.IncRetries()
		logger.Info("node will be retried")
		return
	}
	if err := o.state.MarkFailed(id); err != nil {
		logger.Error("failed to mark node failed", "error", err)
	}
}

// MergeRecords накладывает записи живой очереди на записи accounting:
// для одного job состояние и узел из очереди новее. Записи, которых
// нет в accounting, не добавляются.
func MergeRecords(accounting, queue []domain.JobRecord) []domain.JobRecord {
	live := make(map[string]domain.JobRecord, len(queue))
	for _, rec := range queue {
		live[rec.JobID] = rec
	}

	merged := make([]domain.JobRecord, 0, len(accounting))
	for _, rec := range accounting {
		if q, ok := live[rec.JobID]; ok {
			rec.State = q.State
			rec.Location = q.Location
		}
		merged = append(merged, rec)
	}
	return merged
}

// submitReady отправляет READY узлы с учётом max_jobs_queued и max_jobs_submit.
func (o *Orchestrator) submitReady(ctx, work context.Context) {
	submitted := 0
	for _, node := range o.state.ReadyNodes() {
		if ctx.Err() != nil {
			return
		}
		if o.params.MaxJobsQueued > 0 && o.state.QueuedJobs() >= o.params.MaxJobsQueued {
			o.logger.Debug("queue limit reached", "max_jobs_queued", o.params.MaxJobsQueued)
			return
		}

		logger := telemetry.WithNode(o.logger, node.ID)
		if node.HasRetryNum && node.RetryNum > 0 {
			limit, _ := o.dag.MaxRetriesFor(node.ID)
			logger = logger.With("retry", node.RetryNum, "max_retries", limit)
		}

		jobID, err := o.submit(work, node)
		if err == nil {
			if err := o.state.MarkQueued(node.ID, jobID); err != nil {
				logger.Error("failed to mark node queued", "error", err)
				continue
			}
			logger.Info("submitted node", "job_id", jobID)
			submitted++
		} else {
			logger.Error("failed to submit node", "error", err)
			o.handleSubmitFailure(logger, node.ID)
		}

		if o.params.MaxJobsSubmit > 0 && submitted >= o.params.MaxJobsSubmit {
			return
		}
		if o.params.SubmitWaitTime > 0 {
			_ = o.sleep(ctx, seconds(o.params.SubmitWaitTime))
		}
	}
}

func (o *Orchestrator) handleSubmitFailure(logger *slog.Logger, id string) {
	if err := o.state.MarkQueued(id, ""); err != nil {
		logger.Error("failed to mark node queued", "error", err)
		return
	}
	if o.state.CanRetry(id, 0, false) {
		if err := o.state.MarkReady(id); err != nil {
			logger.Error("failed to mark node ready", "error", err)
			return
		}
		o.metrics.IncRetries()
		logger.Info("node will be retried")
		return
	}
	if err := o.state.MarkFailed(id); err != nil {
		logger.Error("failed to mark node failed", "error", err)
	}
}

// submit рендерит submit файл узла и отправляет его.
func (o *Orchestrator) submit(ctx context.Context, node *engine.Node) (string, error) {
	path, err := engine.MaterializeTemplate(node.SubmitFile, node.Vars)
	if err != nil {
		o.metrics.ObserveSubmission(err)
		return "", err
	}
	defer os.Remove(path)

	start := time.Now()
	jobID, err := o.scheduler.Submit(ctx, path, node.ID, o.tag)
	o.metrics.ObserveSchedulerCall("submit", time.Since(start), err)
	o.metrics.ObserveSubmission(err)
	return jobID, err
}

// reload перечитывает runtime файл. Отсутствующий или невалидный файл
// целиком отбрасывается и перезаписывается текущими значениями.
func (o *Orchestrator) reload() {
	if o.store == nil {
		return
	}

	overrides, err := o.store.Load()
	if err != nil {
		if errors.Is(err, config.ErrConfigMissing) {
			o.logger.Info("runtime config missing, rewriting")
		} else {
			o.logger.Warn("runtime config invalid, rewriting", "error", err)
		}
		o.saveParams()
		return
	}

	next := overrides.Apply(o.params)
	for _, c := range o.params.Changes(next) {
		o.logger.Info("runtime config change detected", "key", c.Key, "old", c.Old, "new", c.New)
	}
	o.params = next
}

func (o *Orchestrator) saveParams() {
	if o.store == nil {
		return
	}
	if err := o.store.Save(o.params); err != nil {
		o.logger.Warn("failed to write runtime config", "error", err)
	}
}

// finish завершает запуск: отмена job при cancel и запись rescue файла
// при неуспешном итоге, если есть выполненные узлы.
func (o *Orchestrator) finish(ctx context.Context, outcome domain.Outcome) (domain.RunSummary, error) {
	summary := domain.RunSummary{Outcome: outcome}
	var errs []error

	if o.params.Cancel && outcome != domain.OutcomeSuccess {
		if err := o.terminate(ctx); err != nil {
			o.logger.Warn("failed to terminate DAG, writing rescue file with finished nodes", "error", err)
			errs = append(errs, err)
		}
		summary.Outcome = domain.OutcomeCancelled
	}

	if summary.Outcome != domain.OutcomeSuccess && o.state.Stats().Done > 0 {
		path, err := o.writeRescue()
		if err != nil {
			o.logger.Error("failed to write rescue file", "error", err)
			errs = append(errs, err)
		} else {
			summary.RescueFile = path
		}
	}

	o.flushEvents(ctx)
	summary.Counts = o.state.Stats()
	summary.FinishedAt = o.now()

	err := errors.Join(errs...)
	if err != nil {
		summary.Error = err.Error()
	}
	return summary, err
}

// terminate отменяет job запуска и ждёт, пока очередь опустеет.
func (o *Orchestrator) terminate(ctx context.Context) error {
	if o.state.Stats().Queued == 0 {
		return nil
	}
	o.logger.Info("cancelling queued DAG nodes")

	// remaining < 0: очередь так и не удалось опросить
	remaining := -1
	var queryErr error
	for attempt := 1; attempt <= o.cancelRetries; attempt++ {
		start := time.Now()
		out, err := o.scheduler.Cancel(ctx, o.tag)
		o.metrics.ObserveSchedulerCall("cancel", time.Since(start), err)
		if err != nil {
			o.logger.Warn("cancel command failed", "attempt", attempt, "error", err)
		} else if out != "" {
			o.logger.Debug("cancel output", "output", out)
		}

		_ = o.sleep(ctx, o.cancelPollInterval)

		start = time.Now()
		queue, err := o.scheduler.QueryQueue(ctx, o.tag)
		o.metrics.ObserveSchedulerCall("queue", time.Since(start), err)
		if err != nil {
			o.logger.Warn("failed to query queue after cancel", "attempt", attempt, "error", err)
			queryErr = err
			continue
		}
		if len(queue) == 0 {
			o.logger.Info("queued DAG nodes cancelled")
			return nil
		}
		remaining = len(queue)
	}
	if remaining < 0 {
		return fmt.Errorf("%w: queue state unknown after %d attempts: %w", ErrCancelIncomplete, o.cancelRetries, queryErr)
	}
	return fmt.Errorf("%w: %d jobs after %d attempts", ErrCancelIncomplete, remaining, o.cancelRetries)
}

// writeRescue пишет rescue файл со следующим номером после последнего
// существующего.
func (o *Orchestrator) writeRescue() (string, error) {
	latest, err := rescue.Highest(o.dag.File)
	if err != nil {
		latest = o.dag.File
	}
	if rescue.Number(o.dag.File) > rescue.Number(latest) {
		latest = o.dag.File
	}
	path := rescue.Next(latest)

	o.logger.Info("writing rescue file", "path", path)
	opts := engine.WriteOptions{AppearanceOrder: true, DoneLabels: true}
	if err := engine.WriteFile(path, o.state.RescueDAG(), opts); err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrRescueWrite, path, err)
	}
	return path, nil
}

func (o *Orchestrator) logCounts(c domain.NodeCounts, act activity) {
	o.logger.Info("node counts",
		"total", c.Total,
		"done", c.Done,
		"queued", c.Queued,
		"ready", c.Ready,
		"unready", c.Unready,
		"failed", c.Failed,
	)
	if c.Queued > 0 {
		o.logger.Info("queued nodes",
			"queued", c.Queued,
			"running", act.running,
			"pending", act.pending,
			"other", act.unknown,
		)
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// sleepContext ждёт d или отмены ctx.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
