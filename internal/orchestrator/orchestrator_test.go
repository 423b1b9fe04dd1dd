package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/slurmdag/internal/config"
	"github.com/shaiso/slurmdag/internal/domain"
	"github.com/shaiso/slurmdag/internal/engine"
)

// fakeJob — job в фейковом планировщике.
type fakeJob struct {
	node     string
	state    string
	exitCode int
}

// fakeScheduler — планировщик, который завершает job мгновенно
// с заранее заданными состояниями.
type fakeScheduler struct {
	nextID int
	jobs   map[string]*fakeJob

	// finals — итоговые состояния по попыткам узла (default: COMPLETED).
	finals map[string][]string
	// exits — коды выхода по попыткам узла (default: 0).
	exits map[string][]int
	// running — узлы, job которых остаются RUNNING.
	running map[string]bool
	// submitErrs — сколько первых отправок узла отклонить.
	submitErrs map[string]int
	// stubborn — cancel не убирает job из очереди.
	stubborn bool
	// queueErr — ошибка squeue.
	queueErr error

	attempts  map[string]int
	submitted []string
	rendered  map[string]string
	cancels   int
	tags      map[string]bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		jobs:       make(map[string]*fakeJob),
		finals:     make(map[string][]string),
		exits:      make(map[string][]int),
		running:    make(map[string]bool),
		submitErrs: make(map[string]int),
		attempts:   make(map[string]int),
		rendered:   make(map[string]string),
		tags:       make(map[string]bool),
	}
}

func (f *fakeScheduler) Submit(_ context.Context, templatePath, node, runTag string) (string, error) {
	f.tags[runTag] = true
	attempt := f.attempts[node]
	f.attempts[node]++

	if f.submitErrs[node] > 0 {
		f.submitErrs[node]--
		return "", errors.New("sbatch: error: Batch job submission failed")
	}

	data, err := os.ReadFile(templatePath)
	if err != nil {
		return "", err
	}
	f.rendered[node] = string(data)

	state := "COMPLETED"
	if finals := f.finals[node]; attempt < len(finals) {
		state = finals[attempt]
	}
	exit := 0
	if exits := f.exits[node]; attempt < len(exits) {
		exit = exits[attempt]
	}

	f.nextID++
	id := fmt.Sprint(1000 + f.nextID)
	f.jobs[id] = &fakeJob{node: node, state: state, exitCode: exit}
	f.submitted = append(f.submitted, node)
	return id, nil
}

func (f *fakeScheduler) state(job *fakeJob) string {
	if f.running[job.node] {
		return "RUNNING"
	}
	return job.state
}

func (f *fakeScheduler) QueryAccounting(_ context.Context, jobIDs []string, _ string, _ time.Time) ([]domain.JobRecord, error) {
	var records []domain.JobRecord
	for _, id := range jobIDs {
		job, ok := f.jobs[id]
		if !ok {
			continue
		}
		records = append(records, domain.JobRecord{
			JobID:       id,
			Name:        job.node,
			State:       f.state(job),
			ExitCode:    job.exitCode,
			HasExitCode: true,
		})
	}
	return records, nil
}

func (f *fakeScheduler) QueryQueue(_ context.Context, _ string) ([]domain.JobRecord, error) {
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	var records []domain.JobRecord
	for id, job := range f.jobs {
		if state := f.state(job); state == "RUNNING" || state == "PENDING" {
			records = append(records, domain.JobRecord{JobID: id, State: state, Location: "n01"})
		}
	}
	return records, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, _ string) (string, error) {
	f.cancels++
	if !f.stubborn {
		clear(f.running)
		for _, job := range f.jobs {
			if job.state == "RUNNING" || job.state == "PENDING" {
				job.state = "CANCELLED"
			}
		}
	}
	return "", nil
}

// fixture — DAG файл с submit файлами во временной директории.
type fixture struct {
	dir     string
	dagFile string
	store   *config.Store
}

// newFixture пишет DAG файл; %s в тексте заменяется директорией fixture.
func newFixture(t *testing.T, nodes []string, text string) *fixture {
	t.Helper()
	dir := t.TempDir()
	for _, node := range nodes {
		sub := filepath.Join(dir, strings.ToLower(node)+".sub")
		body := "#!/bin/bash\n#SBATCH --output=" + node + ".out\necho $(ARG)\n"
		if err := os.WriteFile(sub, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	dagFile := filepath.Join(dir, "wf.dag")
	if err := os.WriteFile(dagFile, []byte(strings.ReplaceAll(text, "%s", dir)), 0o644); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		dir:     dir,
		dagFile: dagFile,
		store:   config.NewStore(config.RuntimePath(dagFile)),
	}
}

func (fx *fixture) dag(t *testing.T) *engine.DAG {
	t.Helper()
	dag, err := engine.ParseFile(fx.dagFile)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return dag
}

func testParams() config.Params {
	p := config.Defaults()
	p.SubmitWaitTime = 0
	return p
}

// runHarness собирает Orchestrator с фейковыми часами и ожиданием.
type runHarness struct {
	orch   *Orchestrator
	sleeps []time.Duration
	// onSleep вызывается на каждой паузе между итерациями (номер с 1).
	onSleep func(n int)
}

func newHarness(t *testing.T, fx *fixture, sched *fakeScheduler, params config.Params) *runHarness {
	t.Helper()
	h := &runHarness{}
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	iterations := 0

	h.orch = New(Config{
		DAG:                fx.dag(t),
		Scheduler:          sched,
		Store:              fx.store,
		Params:             params,
		CancelRetries:      3,
		CancelPollInterval: time.Minute,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			if d == time.Duration(h.orch.Params().SleepTime)*time.Second {
				iterations++
				if iterations > 50 {
					t.Fatal("run did not terminate")
				}
				if h.onSleep != nil {
					h.onSleep(iterations)
				}
			}
			return nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

// --- Orchestrator Tests ---

func TestRun_ChainSucceeds(t *testing.T) {
	fx := newFixture(t, []string{"A", "B"}, `
JOB A %s/a.sub
JOB B %s/b.sub
VARS B ARG="hello world"
PARENT A CHILD B
`)
	sched := newFakeScheduler()
	h := newHarness(t, fx, sched, testParams())

	summary, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Outcome != domain.OutcomeSuccess {
		t.Errorf("Outcome = %s, want SUCCEEDED", summary.Outcome)
	}
	if !slices.Equal(sched.submitted, []string{"A", "B"}) {
		t.Errorf("submitted = %v, want [A B]", sched.submitted)
	}
	if summary.Counts.Done != 2 || summary.Counts.Total != 2 {
		t.Errorf("Counts = %+v", summary.Counts)
	}
	if summary.RescueFile != "" {
		t.Errorf("no rescue file expected, got %s", summary.RescueFile)
	}
	if !sched.tags[h.orch.Info().Tag] || len(sched.tags) != 1 {
		t.Errorf("jobs should be tagged with the run tag, got %v", sched.tags)
	}

	if !strings.Contains(sched.rendered["B"], "echo hello world\n") {
		t.Errorf("macros not substituted: %q", sched.rendered["B"])
	}
	if !strings.Contains(sched.rendered["A"], "echo \n") {
		t.Errorf("unbound macro should be deleted: %q", sched.rendered["A"])
	}
	if _, err := os.Stat(filepath.Join(fx.dir, "a.sub.tmp")); !os.IsNotExist(err) {
		t.Error("materialized submit file should be removed")
	}

	matches, _ := filepath.Glob(fx.dagFile + ".rescue*")
	if len(matches) != 0 {
		t.Errorf("unexpected rescue files: %v", matches)
	}
}

func TestRun_PreCompletedNodesSkipped(t *testing.T) {
	fx := newFixture(t, []string{"A", "B"}, `
JOB A %s/a.sub DONE
JOB B %s/b.sub
PARENT A CHILD B
`)
	sched := newFakeScheduler()
	h := newHarness(t, fx, sched, testParams())

	summary, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Outcome != domain.OutcomeSuccess {
		t.Errorf("Outcome = %s", summary.Outcome)
	}
	if !slices.Equal(sched.submitted, []string{"B"}) {
		t.Errorf("submitted = %v, want [B]", sched.submitted)
	}
}

func TestRun_RetryExhausted(t *testing.T) {
	fx := newFixture(t, []string{"A"}, `
JOB A %s/a.sub
RETRY A 2
`)
	sched := newFakeScheduler()
	sched.finals["A"] = []string{"FAILED", "FAILED", "FAILED"}
	sched.exits["A"] = []int{1, 1, 1}
	h := newHarness(t, fx, sched, testParams())

	summary, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Outcome != domain.OutcomeFailure {
		t.Errorf("Outcome = %s, want FAILED", summary.Outcome)
	}
	if len(sched.submitted) != 3 {
		t.Errorf("submissions = %d, want 3", len(sched.submitted))
	}
	if summary.RescueFile != "" {
		t.Error("no rescue file expected without done nodes")
	}
}

func TestRun_NoRetryExitCode(t *testing.T) {
	fx := newFixture(t, []string{"A"}, `
JOB A %s/a.sub
RETRY A 2
`)
	sched := newFakeScheduler()
	sched.finals["A"] = []string{"FAILED"}
	sched.exits["A"] = []int{0}
	h := newHarness(t, fx, sched, testParams())

	summary, _ := h.orch.Run(context.Background())
	if summary.Outcome != domain.OutcomeFailure {
		t.Errorf("Outcome = %s, want FAILED", summary.Outcome)
	}
	if len(sched.submitted) != 1 {
		t.Errorf("submissions = %d, want 1", len(sched.submitted))
	}
}

func TestRun_RetryThenSuccess(t *testing.T) {
	fx := newFixture(t, []string{"A"}, `
JOB A %s/a.sub
RETRY ALL_NODES 1
`)
	sched := newFakeScheduler()
	sched.finals["A"] = []string{"TIMEOUT", "COMPLETED"}
	sched.exits["A"] = []int{1, 0}
	h := newHarness(t, fx, sched, testParams())

	summary, _ := h.orch.Run(context.Background())
	if summary.Outcome != domain.OutcomeSuccess {
		t.Errorf("Outcome = %s, want SUCCEEDED", summary.Outcome)
	}
	if len(sched.submitted) != 2 {
		t.Errorf("submissions = %d, want 2", len(sched.submitted))
	}
}

func TestRun_SubmitFailureRetried(t *testing.T) {
	fx := newFixture(t, []string{"A", "B"}, `
JOB A %s/a.sub
JOB B %s/b.sub
RETRY A 1
`)
	sched := newFakeScheduler()
	sched.submitErrs["A"] = 1
	sched.submitErrs["B"] = 1
	h := newHarness(t, fx, sched, testParams())

	summary, _ := h.orch.Run(context.Background())
	if summary.Outcome != domain.OutcomeFailure {
		t.Errorf("Outcome = %s, want FAILED", summary.Outcome)
	}
	if sched.attempts["A"] != 2 {
		t.Errorf("A attempts = %d, want 2", sched.attempts["A"])
	}
	if sched.attempts["B"] != 1 {
		t.Errorf("B attempts = %d, want 1", sched.attempts["B"])
	}
	if st, _ := h.orch.State().Status("A"); st != domain.NodeDone {
		t.Errorf("A status = %s, want DONE", st)
	}
	if st, _ := h.orch.State().Status("B"); st != domain.NodeFailed {
		t.Errorf("B status = %s, want FAILED", st)
	}

	// A выполнен, итог неуспешный: rescue файл пишется
	if summary.RescueFile != fx.dagFile+".rescue001" {
		t.Errorf("RescueFile = %q", summary.RescueFile)
	}
}

func TestRun_MaxJobsSubmit(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C"}, `
JOB A %s/a.sub
JOB B %s/b.sub
JOB C %s/c.sub
`)
	sched := newFakeScheduler()
	params := testParams()
	params.MaxJobsSubmit = 1
	h := newHarness(t, fx, sched, params)

	var perIteration []int
	h.onSleep = func(int) {
		perIteration = append(perIteration, len(sched.submitted))
	}

	summary, _ := h.orch.Run(context.Background())
	if summary.Outcome != domain.OutcomeSuccess {
		t.Errorf("Outcome = %s", summary.Outcome)
	}
	if !slices.Equal(perIteration[:3], []int{1, 2, 3}) {
		t.Errorf("submissions per iteration = %v, want 1,2,3", perIteration)
	}
}

func TestRun_MaxJobsQueued(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C"}, `
JOB A %s/a.sub
JOB B %s/b.sub
JOB C %s/c.sub
`)
	sched := newFakeScheduler()
	sched.running["A"] = true
	sched.running["B"] = true
	params := testParams()
	params.MaxJobsQueued = 2
	h := newHarness(t, fx, sched, params)

	h.onSleep = func(n int) {
		if n == 1 {
			if len(sched.submitted) != 2 {
				t.Errorf("first iteration submitted %d, want 2", len(sched.submitted))
			}
			clear(sched.running)
		}
	}

	summary, _ := h.orch.Run(context.Background())
	if summary.Outcome != domain.OutcomeSuccess {
		t.Errorf("Outcome = %s", summary.Outcome)
	}
	if len(sched.submitted) != 3 {
		t.Errorf("submitted = %v", sched.submitted)
	}
}

func TestRun_SubmitWaitTime(t *testing.T) {
	fx := newFixture(t, []string{"A", "B"}, "JOB A %s/a.sub\nJOB B %s/b.sub\n")
	sched := newFakeScheduler()
	params := testParams()
	params.SubmitWaitTime = 3
	h := newHarness(t, fx, sched, params)

	if _, err := h.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	waits := 0
	for _, d := range h.sleeps {
		if d == 3*time.Second {
			waits++
		}
	}
	if waits != 2 {
		t.Errorf("submit waits = %d, want 2 (sleeps %v)", waits, h.sleeps)
	}
}

func TestRun_DrainWritesRescue(t *testing.T) {
	fx := newFixture(t, []string{"A", "B"}, `
JOB A %s/a.sub
JOB B %s/b.sub
`)
	sched := newFakeScheduler()
	params := testParams()
	params.MaxJobsSubmit = 1
	h := newHarness(t, fx, sched, params)

	h.onSleep = func(n int) {
		if n == 1 {
			if _, err := fx.store.Update(config.Defaults(), func(p *config.Params) { p.Drain = true }); err != nil {
				t.Errorf("update store: %v", err)
			}
		}
	}

	summary, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Outcome != domain.OutcomeStopped {
		t.Errorf("Outcome = %s, want STOPPED", summary.Outcome)
	}
	if !slices.Equal(sched.submitted, []string{"A"}) {
		t.Errorf("submitted = %v, want [A]", sched.submitted)
	}
	if !h.orch.Params().Drain {
		t.Error("drain should be picked up from the runtime config")
	}

	data, err := os.ReadFile(fx.dagFile + ".rescue001")
	if err != nil {
		t.Fatalf("rescue file: %v", err)
	}
	rescueText := string(data)
	if !strings.Contains(rescueText, "JOB A "+fx.dir+"/a.sub DONE\n") {
		t.Errorf("A should be DONE in rescue file:\n%s", rescueText)
	}
	if !strings.Contains(rescueText, "JOB B "+fx.dir+"/b.sub\n") {
		t.Errorf("B should not be DONE in rescue file:\n%s", rescueText)
	}
}

func TestRun_CancelTerminatesAndWritesRescue(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C"}, `
JOB A %s/a.sub
JOB B %s/b.sub
JOB C %s/c.sub
PARENT A CHILD B
`)
	sched := newFakeScheduler()
	sched.running["C"] = true
	h := newHarness(t, fx, sched, testParams())

	h.onSleep = func(n int) {
		if n == 1 {
			if _, err := fx.store.Update(config.Defaults(), func(p *config.Params) { p.Cancel = true }); err != nil {
				t.Errorf("update store: %v", err)
			}
		}
	}

	summary, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Outcome != domain.OutcomeCancelled {
		t.Errorf("Outcome = %s, want CANCELLED", summary.Outcome)
	}
	if summary.Outcome.ExitCode() != -1 {
		t.Errorf("ExitCode = %d, want -1", summary.Outcome.ExitCode())
	}
	if sched.cancels != 1 {
		t.Errorf("cancels = %d, want 1", sched.cancels)
	}
	if slices.Contains(sched.submitted, "B") {
		t.Error("B must not be submitted after cancel")
	}
	if summary.RescueFile != fx.dagFile+".rescue001" {
		t.Fatalf("RescueFile = %q", summary.RescueFile)
	}

	// Rescue файл продолжает с того же места
	resumed, err := engine.ParseFile(summary.RescueFile)
	if err != nil {
		t.Fatalf("parse rescue: %v", err)
	}
	if !resumed.Node("A").Done || resumed.Node("B").Done || resumed.Node("C").Done {
		t.Error("only A should be DONE in rescue file")
	}
	if !resumed.Node("B").HasParent("A") {
		t.Error("rescue file should keep edges")
	}
}

func TestRun_CancelIncomplete(t *testing.T) {
	fx := newFixture(t, []string{"A", "C"}, "JOB A %s/a.sub\nJOB C %s/c.sub\n")
	sched := newFakeScheduler()
	sched.running["C"] = true
	sched.stubborn = true
	h := newHarness(t, fx, sched, testParams())

	h.onSleep = func(n int) {
		if n == 1 {
			_, _ = fx.store.Update(config.Defaults(), func(p *config.Params) { p.Cancel = true })
		}
	}

	summary, err := h.orch.Run(context.Background())
	if !errors.Is(err, ErrCancelIncomplete) {
		t.Fatalf("expected ErrCancelIncomplete, got %v", err)
	}
	if sched.cancels != 3 {
		t.Errorf("cancels = %d, want 3", sched.cancels)
	}
	if summary.Outcome != domain.OutcomeCancelled {
		t.Errorf("Outcome = %s", summary.Outcome)
	}
	if summary.RescueFile == "" {
		t.Error("rescue file should still be written")
	}
	if summary.Error == "" {
		t.Error("summary should carry the error")
	}
}

func TestRun_CancelQueueUnknown(t *testing.T) {
	fx := newFixture(t, []string{"A", "C"}, "JOB A %s/a.sub\nJOB C %s/c.sub\n")
	sched := newFakeScheduler()
	sched.running["C"] = true
	h := newHarness(t, fx, sched, testParams())

	h.onSleep = func(n int) {
		if n == 1 {
			_, _ = fx.store.Update(config.Defaults(), func(p *config.Params) { p.Cancel = true })
			sched.queueErr = errors.New("squeue: error: slurm_load_jobs error: Socket timed out")
		}
	}

	_, err := h.orch.Run(context.Background())
	if !errors.Is(err, ErrCancelIncomplete) {
		t.Fatalf("expected ErrCancelIncomplete, got %v", err)
	}
	if !strings.Contains(err.Error(), "queue state unknown") || !strings.Contains(err.Error(), "Socket timed out") {
		t.Errorf("error should report the unknown queue state, got %q", err)
	}
	if strings.Contains(err.Error(), "0 jobs") {
		t.Errorf("error should not claim zero jobs remain: %q", err)
	}
}

// missingDir переносит DAG файл в несуществующую директорию,
// чтобы запись rescue файла не удалась.
func missingDir(h *runHarness, fx *fixture) {
	h.orch.dag.File = filepath.Join(fx.dir, "missing", "wf.dag")
}

func TestRun_RescueWriteFailure(t *testing.T) {
	fx := newFixture(t, []string{"A", "B"}, "JOB A %s/a.sub\nJOB B %s/b.sub\n")
	sched := newFakeScheduler()
	sched.finals["B"] = []string{"FAILED"}
	sched.exits["B"] = []int{1}
	h := newHarness(t, fx, sched, testParams())
	missingDir(h, fx)

	summary, err := h.orch.Run(context.Background())
	if !errors.Is(err, ErrRescueWrite) {
		t.Fatalf("expected ErrRescueWrite, got %v", err)
	}
	if summary.Outcome != domain.OutcomeFailure {
		t.Errorf("Outcome = %s, want FAILED", summary.Outcome)
	}
	if summary.RescueFile != "" {
		t.Errorf("RescueFile = %q, want empty", summary.RescueFile)
	}
	if summary.Error == "" {
		t.Error("summary should carry the error")
	}
}

func TestRun_RescueWriteFailureAfterIncompleteCancel(t *testing.T) {
	fx := newFixture(t, []string{"A", "C"}, "JOB A %s/a.sub\nJOB C %s/c.sub\n")
	sched := newFakeScheduler()
	sched.running["C"] = true
	sched.stubborn = true
	h := newHarness(t, fx, sched, testParams())
	missingDir(h, fx)

	h.onSleep = func(n int) {
		if n == 1 {
			_, _ = fx.store.Update(config.Defaults(), func(p *config.Params) { p.Cancel = true })
		}
	}

	summary, err := h.orch.Run(context.Background())
	if !errors.Is(err, ErrCancelIncomplete) {
		t.Errorf("expected ErrCancelIncomplete, got %v", err)
	}
	if !errors.Is(err, ErrRescueWrite) {
		t.Errorf("rescue write should still be attempted, got %v", err)
	}
	if summary.Outcome != domain.OutcomeCancelled {
		t.Errorf("Outcome = %s, want CANCELLED", summary.Outcome)
	}
	if summary.RescueFile != "" {
		t.Errorf("RescueFile = %q, want empty", summary.RescueFile)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	fx := newFixture(t, []string{"A"}, "JOB A %s/a.sub\n")
	sched := newFakeScheduler()
	h := newHarness(t, fx, sched, testParams())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.orch.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Outcome != domain.OutcomeCancelled {
		t.Errorf("Outcome = %s, want CANCELLED", summary.Outcome)
	}
	if len(sched.submitted) != 0 {
		t.Errorf("nothing should be submitted, got %v", sched.submitted)
	}
}

func TestRun_RescueNumberFollowsHighest(t *testing.T) {
	fx := newFixture(t, []string{"A", "B"}, "JOB A %s/a.sub\nJOB B %s/b.sub\n")
	if err := os.WriteFile(fx.dagFile+".rescue004", []byte("JOB A a.sub\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sched := newFakeScheduler()
	sched.finals["B"] = []string{"FAILED"}
	sched.exits["B"] = []int{1}
	h := newHarness(t, fx, sched, testParams())

	summary, _ := h.orch.Run(context.Background())
	if summary.RescueFile != fx.dagFile+".rescue005" {
		t.Errorf("RescueFile = %q, want rescue005", summary.RescueFile)
	}
}

func TestRun_ConfigReload(t *testing.T) {
	fx := newFixture(t, []string{"A"}, "JOB A %s/a.sub\n")
	sched := newFakeScheduler()
	sched.running["A"] = true
	h := newHarness(t, fx, sched, testParams())

	h.onSleep = func(n int) {
		switch n {
		case 1:
			// Битый файл перезаписывается текущими значениями
			if err := os.WriteFile(fx.store.Path(), []byte("dagman: [broken"), 0o644); err != nil {
				t.Error(err)
			}
		case 2:
			if _, err := fx.store.Load(); err != nil {
				t.Errorf("runtime config should be rewritten, got %v", err)
			}
			_, _ = fx.store.Update(config.Defaults(), func(p *config.Params) { p.SleepTime = 30 })
		case 3:
			clear(sched.running)
		}
	}

	summary, _ := h.orch.Run(context.Background())
	if summary.Outcome != domain.OutcomeSuccess {
		t.Errorf("Outcome = %s", summary.Outcome)
	}
	if got := h.orch.Params().SleepTime; got != 30 {
		t.Errorf("SleepTime = %d, want 30", got)
	}
	if !slices.Contains(h.sleeps, 30*time.Second) {
		t.Errorf("new sleep time not used: %v", h.sleeps)
	}
}

func TestRun_InvalidRuntimeConfigDiscarded(t *testing.T) {
	fx := newFixture(t, []string{"A"}, "JOB A %s/a.sub\n")
	sched := newFakeScheduler()
	sched.running["A"] = true
	h := newHarness(t, fx, sched, testParams())

	h.onSleep = func(n int) {
		switch n {
		case 1:
			// Неполный файл с неверным типом: cancel из него не применяется
			if err := os.WriteFile(fx.store.Path(), []byte("dagman:\n  cancel: yes\n  sleep_time: bogus\n"), 0o644); err != nil {
				t.Error(err)
			}
		case 2:
			o, err := fx.store.Load()
			if err != nil {
				t.Errorf("runtime config should be rewritten, got %v", err)
			}
			if got := o.Apply(config.Params{}); got != testParams() {
				t.Errorf("rewritten config = %+v, want %+v", got, testParams())
			}
			clear(sched.running)
		}
	}

	summary, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Outcome != domain.OutcomeSuccess {
		t.Errorf("Outcome = %s, want SUCCEEDED", summary.Outcome)
	}
	if sched.cancels != 0 {
		t.Errorf("cancels = %d, want 0", sched.cancels)
	}
	if h.orch.Params().Cancel {
		t.Error("cancel from an invalid file must not be applied")
	}
}

// recordingRecorder запоминает события.
type recordingRecorder struct {
	started  int
	finished []domain.RunSummary
	events   []domain.NodeEvent
	err      error
}

func (r *recordingRecorder) RunStarted(context.Context, domain.RunInfo) error {
	r.started++
	return r.err
}

func (r *recordingRecorder) NodeChanged(_ context.Context, ev domain.NodeEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingRecorder) RunFinished(_ context.Context, _ domain.RunInfo, s domain.RunSummary) error {
	r.finished = append(r.finished, s)
	return r.err
}

func TestRun_Recorders(t *testing.T) {
	fx := newFixture(t, []string{"A"}, "JOB A %s/a.sub\n")
	sched := newFakeScheduler()
	ok := &recordingRecorder{}
	broken := &recordingRecorder{err: errors.New("broker down")}

	orch := New(Config{
		DAG:       fx.dag(t),
		Scheduler: sched,
		Params:    testParams(),
		Recorders: []Recorder{broken, ok},
		Sleep:     func(context.Context, time.Duration) error { return nil },
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("recorder errors must not fail the run: %v", err)
	}
	if summary.Outcome != domain.OutcomeSuccess {
		t.Errorf("Outcome = %s", summary.Outcome)
	}
	if ok.started != 1 || len(ok.finished) != 1 {
		t.Errorf("started=%d finished=%d", ok.started, len(ok.finished))
	}

	var path []domain.NodeStatus
	for _, ev := range ok.events {
		path = append(path, ev.To)
	}
	want := []domain.NodeStatus{domain.NodeReady, domain.NodeQueued, domain.NodeDone}
	if !slices.Equal(path, want) {
		t.Errorf("event path = %v, want %v", path, want)
	}
	if ok.events[0].RunID != orch.Info().ID {
		t.Error("events should carry the run ID")
	}
}

func TestRun_Snapshot(t *testing.T) {
	fx := newFixture(t, []string{"A", "B"}, `
JOB A %s/a.sub
JOB B %s/b.sub
PARENT A CHILD B
RETRY B 2
`)
	sched := newFakeScheduler()
	h := newHarness(t, fx, sched, testParams())

	initial := h.orch.Snapshot()
	if initial.Summary != nil || initial.Counts.Ready != 1 || initial.Run.Tag != h.orch.Info().Tag {
		t.Fatalf("initial snapshot = %+v", initial)
	}

	var first Snapshot
	h.onSleep = func(n int) {
		if n == 1 {
			first = h.orch.Snapshot()
		}
	}

	if _, err := h.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	a, ok := first.Node("A")
	if !ok || a.Status != domain.NodeQueued || a.JobID == "" || a.Attempt != -1 {
		t.Errorf("A after first iteration = %+v", a)
	}
	b, _ := first.Node("B")
	if b.Status != domain.NodeUnready || !slices.Equal(b.Waiting, []string{"A"}) || b.MaxRetries != 2 {
		t.Errorf("B after first iteration = %+v", b)
	}

	final := h.orch.Snapshot()
	if final.Summary == nil || final.Summary.Outcome != domain.OutcomeSuccess {
		t.Fatalf("final summary = %+v", final.Summary)
	}
	if final.Counts.Done != 2 {
		t.Errorf("final counts = %+v", final.Counts)
	}
}
