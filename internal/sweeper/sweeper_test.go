/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/catchup/internal/clock"
	"github.com/friendsincode/catchup/internal/models"
)

var sweepTime = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// memSource filters a fixed item list the way a store query would.
type memSource struct {
	mu    sync.Mutex
	items []models.ScheduledItem
	err   error
	calls int
	asOfs []time.Time
	gate  chan struct{} // when non-nil, FindOverdue blocks until closed
}

func (m *memSource) FindOverdue(ctx context.Context, asOf time.Time) ([]models.ScheduledItem, error) {
	m.mu.Lock()
	m.calls++
	m.asOfs = append(m.asOfs, asOf)
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if m.err != nil {
		return nil, m.err
	}
	var out []models.ScheduledItem
	for _, item := range m.items {
		if item.Overdue(asOf) {
			out = append(out, models.ScheduledItem{ID: item.ID, TargetTime: item.TargetTime, Status: item.Status})
		}
	}
	return out, nil
}

func (m *memSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fakeExecutor records deliveries and returns configured per-item errors.
type fakeExecutor struct {
	mu        sync.Mutex
	delivered []string
	errs      map[string]error
	panics    map[string]bool
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	entered   chan string
	release   chan struct{}
}

func (f *fakeExecutor) Deliver(ctx context.Context, itemID string) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxFlight.Load()
		if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.entered != nil {
		f.entered <- itemID
	}
	if f.release != nil {
		<-f.release
	}

	f.mu.Lock()
	f.delivered = append(f.delivered, itemID)
	f.mu.Unlock()

	if f.panics[itemID] {
		panic("executor exploded")
	}
	return f.errs[itemID]
}

func (f *fakeExecutor) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.delivered...)
	sort.Strings(out)
	return out
}

type recordedEvent struct {
	message string
	data    map[string]any
}

type recordingLogger struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingLogger) Record(message string, data map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{message, data})
	r.mu.Unlock()
}

func (r *recordingLogger) byMessage(message string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.message == message {
			out = append(out, e)
		}
	}
	return out
}

func pending(id string, target time.Time) models.ScheduledItem {
	return models.ScheduledItem{ID: id, TargetTime: target, Status: models.ItemStatusPending}
}

func newTestSweeper(src Source, exec Executor, events EventLogger, opts Options) *Sweeper {
	opts.Hook = "test_hook"
	opts.Clock = clock.NewFake(sweepTime)
	opts.Events = events
	return New(src, exec, opts, zerolog.Nop())
}

func TestSweepScenarioTwoOverdueOneFuture(t *testing.T) {
	src := &memSource{items: []models.ScheduledItem{
		pending("t-10", sweepTime.Add(-10*time.Minute)),
		pending("t-5", sweepTime.Add(-5*time.Minute)),
		pending("t+5", sweepTime.Add(5*time.Minute)),
	}}
	exec := &fakeExecutor{}
	events := &recordingLogger{}

	report, err := newTestSweeper(src, exec, events, Options{}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if got := exec.calls(); fmt.Sprint(got) != "[t-10 t-5]" {
		t.Fatalf("delivered = %v, want [t-10 t-5]", got)
	}
	if report.Delivered != 2 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("report counts = %d/%d/%d, want 2/0/0", report.Delivered, report.Failed, report.Skipped)
	}
	if !report.AsOf.Equal(sweepTime) {
		t.Errorf("asOf = %v, want %v", report.AsOf, sweepTime)
	}

	started := events.byMessage(MsgSweepStarted)
	if len(started) != 1 {
		t.Fatalf("expected 1 started event, got %d", len(started))
	}
	if started[0].data["count"] != 2 {
		t.Errorf("started count = %v, want 2", started[0].data["count"])
	}
	if got := len(events.byMessage(MsgDeliveryAttempt)); got != 2 {
		t.Errorf("attempt events = %d, want 2", got)
	}
	delivered := events.byMessage(MsgItemDelivered)
	if len(delivered) != 2 {
		t.Fatalf("delivered events = %d, want 2", len(delivered))
	}
	for _, e := range delivered {
		if e.data["id"] == "t+5" {
			t.Error("future item must not be touched")
		}
	}
}

func TestSweepAttemptsExactlyTheOverdueSet(t *testing.T) {
	items := []models.ScheduledItem{
		pending("a", sweepTime.Add(-time.Hour)),
		pending("b", sweepTime.Add(-time.Second)),
		pending("at-boundary", sweepTime),
		pending("future", sweepTime.Add(time.Second)),
		{ID: "delivered", TargetTime: sweepTime.Add(-time.Hour), Status: models.ItemStatusDelivered},
		{ID: "failed", TargetTime: sweepTime.Add(-time.Hour), Status: models.ItemStatusFailed},
	}
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			exec := &fakeExecutor{}
			s := newTestSweeper(&memSource{items: items}, exec, nil, Options{Concurrency: concurrency})

			if _, err := s.Sweep(context.Background()); err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if got := exec.calls(); fmt.Sprint(got) != "[a b]" {
				t.Errorf("delivered = %v, want [a b]", got)
			}
		})
	}
}

func TestSweepTreatsOverdueItemsAsASet(t *testing.T) {
	items := []models.ScheduledItem{
		pending("a", sweepTime.Add(-time.Hour)),
		pending("a", sweepTime.Add(-time.Hour)),
		pending("b", sweepTime.Add(-time.Minute)),
		pending("a", sweepTime.Add(-time.Hour)),
	}
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			exec := &fakeExecutor{}
			events := &recordingLogger{}
			s := newTestSweeper(&memSource{items: items}, exec, events, Options{Concurrency: concurrency})

			report, err := s.Sweep(context.Background())
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if got := exec.calls(); fmt.Sprint(got) != "[a b]" {
				t.Errorf("delivered = %v, want [a b]", got)
			}
			if report.Attempted() != 2 {
				t.Errorf("attempted = %d, want 2", report.Attempted())
			}

			started := events.byMessage(MsgSweepStarted)
			if len(started) != 1 {
				t.Fatalf("started events = %d, want 1", len(started))
			}
			if started[0].data["count"] != 2 {
				t.Errorf("started count = %v, want 2", started[0].data["count"])
			}
			if ids := fmt.Sprint(started[0].data["item_ids"]); ids != "[a b]" {
				t.Errorf("started ids = %s, want [a b]", ids)
			}
		})
	}
}

func TestSweepEmptySource(t *testing.T) {
	exec := &fakeExecutor{}
	events := &recordingLogger{}

	report, err := newTestSweeper(&memSource{}, exec, events, Options{}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Attempted() != 0 {
		t.Errorf("attempted = %d, want 0", report.Attempted())
	}
	started := events.byMessage(MsgSweepStarted)
	if len(started) != 1 || started[0].data["count"] != 0 {
		t.Fatalf("expected started event with count 0, got %+v", started)
	}
	if len(events.byMessage(MsgDeliveryAttempt)) != 0 {
		t.Error("no delivery attempts expected")
	}
	if len(events.byMessage(MsgSweepCompleted)) != 1 {
		t.Error("expected completed event")
	}
	if len(exec.calls()) != 0 {
		t.Error("executor must not be called")
	}
}

func TestSweepFailureIsolation(t *testing.T) {
	src := &memSource{items: []models.ScheduledItem{
		pending("a", sweepTime.Add(-time.Minute)),
		pending("b", sweepTime.Add(-time.Minute)),
		pending("c", sweepTime.Add(-time.Minute)),
		pending("d", sweepTime.Add(-time.Minute)),
	}}
	exec := &fakeExecutor{
		errs: map[string]error{
			"a": errors.New("downstream unavailable"),
			"c": fmt.Errorf("not due yet: %w", ErrSkipped),
		},
		panics: map[string]bool{"d": true},
	}
	events := &recordingLogger{}

	report, err := newTestSweeper(src, exec, events, Options{}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	outcomes := map[string]Outcome{}
	for _, r := range report.Results {
		outcomes[r.ItemID] = r.Outcome
	}
	want := map[string]Outcome{
		"a": OutcomeFailed,
		"b": OutcomeDelivered,
		"c": OutcomeSkipped,
		"d": OutcomeFailed,
	}
	for id, o := range want {
		if outcomes[id] != o {
			t.Errorf("outcome[%s] = %q, want %q", id, outcomes[id], o)
		}
	}
	if report.Delivered != 1 || report.Failed != 2 || report.Skipped != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/2/1", report.Delivered, report.Failed, report.Skipped)
	}

	for _, r := range report.Results {
		if r.ItemID == "d" && !errors.Is(r.Err, ErrExecutorPanic) {
			t.Errorf("panic result error = %v, want ErrExecutorPanic", r.Err)
		}
	}
	failed := events.byMessage(MsgItemFailed)
	if len(failed) != 2 {
		t.Fatalf("failed events = %d, want 2", len(failed))
	}
	if failed[0].data["error"] == nil {
		t.Error("failed event must carry the error")
	}
}

func TestSweepStoreFailureAborts(t *testing.T) {
	src := &memSource{err: errors.New("connection refused")}
	exec := &fakeExecutor{}
	events := &recordingLogger{}

	report, err := newTestSweeper(src, exec, events, Options{}).Sweep(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if report != nil {
		t.Errorf("expected nil report, got %+v", report)
	}
	if len(events.byMessage(MsgSweepFailed)) != 1 {
		t.Error("expected sweep failed event")
	}
	if len(events.byMessage(MsgSweepStarted)) != 0 {
		t.Error("started must not be emitted when the query fails")
	}
	if len(exec.calls()) != 0 {
		t.Error("executor must not be called")
	}
}

func TestSweepRecoversAfterStoreFailure(t *testing.T) {
	src := &memSource{
		items: []models.ScheduledItem{pending("a", sweepTime.Add(-time.Minute))},
		err:   errors.New("timeout"),
	}
	exec := &fakeExecutor{}
	s := newTestSweeper(src, exec, nil, Options{})

	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected first sweep to fail")
	}
	if s.Running() {
		t.Fatal("running flag must be cleared after an aborted sweep")
	}

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()

	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", report.Delivered)
	}
}

func TestSweepSkipsWhenAlreadyRunning(t *testing.T) {
	src := &memSource{items: []models.ScheduledItem{pending("a", sweepTime.Add(-time.Minute))}}
	exec := &fakeExecutor{entered: make(chan string, 1), release: make(chan struct{})}
	events := &recordingLogger{}
	s := newTestSweeper(src, exec, events, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Sweep(context.Background())
		done <- err
	}()

	<-exec.entered
	if !s.Running() {
		t.Fatal("expected Running() while first sweep is in progress")
	}

	if _, err := s.Sweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("second Sweep err = %v, want ErrSweepInProgress", err)
	}
	if len(events.byMessage(MsgSweepSkipped)) != 1 {
		t.Error("expected skipped event")
	}

	close(exec.release)
	if err := <-done; err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if src.callCount() != 1 {
		t.Errorf("source calls = %d, want 1", src.callCount())
	}
	if s.Running() {
		t.Error("Running() must be false after completion")
	}
}

func TestSweepQueuesWhenAlreadyRunning(t *testing.T) {
	gate := make(chan struct{})
	src := &memSource{gate: gate}
	s := newTestSweeper(src, &fakeExecutor{}, nil, Options{OverlapPolicy: OverlapQueue})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Sweep(context.Background())
			errs <- err
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// The second sweep must still be waiting for the first.
	time.Sleep(50 * time.Millisecond)
	if got := src.callCount(); got != 1 {
		t.Fatalf("source calls while first sweep is blocked = %d, want 1", got)
	}

	close(gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("queued sweep returned %v", err)
		}
	}
	if got := src.callCount(); got != 2 {
		t.Errorf("source calls = %d, want 2", got)
	}
}

func TestSweepQueueHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	src := &memSource{gate: gate}
	s := newTestSweeper(src, &fakeExecutor{}, nil, Options{OverlapPolicy: OverlapQueue})

	go func() { _, _ = s.Sweep(context.Background()) }()
	for src.callCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Sweep(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	close(gate)
}

func TestSweepBoundsConcurrency(t *testing.T) {
	var items []models.ScheduledItem
	for i := 0; i < 8; i++ {
		items = append(items, pending(fmt.Sprintf("item-%d", i), sweepTime.Add(-time.Minute)))
	}
	exec := &fakeExecutor{}
	s := newTestSweeper(&memSource{items: items}, exec, nil, Options{Concurrency: 3})

	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Delivered != len(items) {
		t.Errorf("delivered = %d, want %d", report.Delivered, len(items))
	}
	if max := exec.maxFlight.Load(); max > 3 {
		t.Errorf("max in-flight deliveries = %d, want <= 3", max)
	}
}

type panickingLogger struct{}

func (panickingLogger) Record(string, map[string]any) { panic("sink down") }

func TestSweepSurvivesPanickingLogger(t *testing.T) {
	src := &memSource{items: []models.ScheduledItem{pending("a", sweepTime.Add(-time.Minute))}}
	report, err := newTestSweeper(src, &fakeExecutor{}, panickingLogger{}, Options{}).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", report.Delivered)
	}
}

func TestNewDefaults(t *testing.T) {
	s := New(&memSource{}, &fakeExecutor{}, Options{Hook: "h", Concurrency: -2, OverlapPolicy: "bogus"}, zerolog.Nop())
	if s.concurrency != 1 {
		t.Errorf("concurrency = %d, want 1", s.concurrency)
	}
	if s.policy != OverlapSkip {
		t.Errorf("policy = %q, want skip", s.policy)
	}
	if _, ok := s.events.(NopLogger); !ok {
		t.Errorf("events = %T, want NopLogger", s.events)
	}
	if _, ok := s.clock.(clock.Real); !ok {
		t.Errorf("clock = %T, want clock.Real", s.clock)
	}
	if s.Hook() != "h" {
		t.Errorf("Hook() = %q", s.Hook())
	}
}

func TestResultFields(t *testing.T) {
	r := Result{SweepID: "s1", ItemID: "i1", Outcome: OutcomeFailed, Timestamp: sweepTime, Err: errors.New("x")}
	f := r.Fields("hook")
	if f["id"] != "i1" || f["outcome"] != "failed" || f["error"] != "x" || f["sweep_id"] != "s1" {
		t.Errorf("unexpected fields: %v", f)
	}
	if r.Message() != MsgItemFailed {
		t.Errorf("Message() = %q", r.Message())
	}
	if (Result{Outcome: OutcomeSkipped}).Message() != MsgItemSkipped {
		t.Error("skipped message mismatch")
	}
}
