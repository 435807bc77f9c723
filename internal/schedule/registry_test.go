package schedule

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testHook = "catchup_test_hook"

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnsureScheduledIsIdempotent(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Bind(testHook, func() {})

	if err := r.EnsureScheduled(testHook, time.Hour); err != nil {
		t.Fatalf("first EnsureScheduled: %v", err)
	}
	if err := r.EnsureScheduled(testHook, time.Minute); err != nil {
		t.Fatalf("second EnsureScheduled: %v", err)
	}
	if err := r.EnsureCron(testHook, "*/5 * * * *"); err != nil {
		t.Fatalf("EnsureCron on scheduled hook: %v", err)
	}

	if got := len(r.cron.Entries()); got != 1 {
		t.Fatalf("cron entries = %d, want 1", got)
	}
	entry := r.cron.Entry(r.entries[testHook])
	if s, ok := entry.Schedule.(*everyFromNow); !ok || s.interval != time.Hour {
		t.Errorf("schedule = %#v, want the first hourly timer", entry.Schedule)
	}
}

func TestEnsureScheduledRequiresBinding(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	if err := r.EnsureScheduled("unbound", time.Minute); !errors.Is(err, ErrUnboundHook) {
		t.Errorf("err = %v, want ErrUnboundHook", err)
	}
	if r.IsScheduled("unbound") {
		t.Error("unbound hook must not be scheduled")
	}
}

func TestEnsureScheduledRejectsBadInterval(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Bind(testHook, func() {})
	for _, d := range []time.Duration{0, -time.Second} {
		if err := r.EnsureScheduled(testHook, d); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("interval %v: err = %v, want ErrInvalidInterval", d, err)
		}
	}
}

func TestEnsureCron(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{"five field", "*/5 * * * *", false},
		{"descriptor", "@every 5m", false},
		{"hourly", "@hourly", false},
		{"garbage", "not a cron", true},
		{"six field", "0 */5 * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(zerolog.Nop())
			r.Bind(testHook, func() {})
			err := r.EnsureCron(testHook, tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EnsureCron(%q) err = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if r.IsScheduled(testHook) == tt.wantErr {
				t.Errorf("IsScheduled = %v", !tt.wantErr)
			}
		})
	}
}

func TestEnsureDispatch(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Bind("interval", func() {})
	r.Bind("cron", func() {})

	if err := r.Ensure(TimerConfig{HookName: "interval", Interval: time.Minute}); err != nil {
		t.Fatalf("Ensure interval: %v", err)
	}
	if err := r.Ensure(TimerConfig{HookName: "cron", Interval: time.Minute, Spec: "@daily"}); err != nil {
		t.Fatalf("Ensure cron: %v", err)
	}
	if _, ok := r.cron.Entry(r.entries["cron"]).Schedule.(*everyFromNow); ok {
		t.Error("spec must take precedence over interval")
	}
	if got := r.Hooks(); len(got) != 2 || got[0] != "cron" || got[1] != "interval" {
		t.Errorf("Hooks() = %v", got)
	}
}

func TestCancel(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Bind(testHook, func() {})

	if r.Cancel(testHook) {
		t.Error("Cancel on unscheduled hook should report false")
	}
	if err := r.EnsureScheduled(testHook, time.Minute); err != nil {
		t.Fatal(err)
	}
	if !r.Cancel(testHook) {
		t.Error("Cancel should report true for a scheduled hook")
	}
	if r.IsScheduled(testHook) {
		t.Error("hook still scheduled after Cancel")
	}
	if len(r.cron.Entries()) != 0 {
		t.Error("cron entry not removed")
	}
	if _, ok := r.Next(testHook); ok {
		t.Error("Next should report false after Cancel")
	}

	// Rescheduling after cancel creates exactly one new timer.
	if err := r.EnsureScheduled(testHook, time.Minute); err != nil {
		t.Fatal(err)
	}
	if len(r.cron.Entries()) != 1 {
		t.Errorf("entries = %d, want 1", len(r.cron.Entries()))
	}
}

func TestFirstFireIsImmediate(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var fired atomic.Int32
	r.Bind(testHook, func() { fired.Add(1) })

	if err := r.EnsureScheduled(testHook, time.Hour); err != nil {
		t.Fatal(err)
	}
	r.Start()
	defer r.Stop()

	waitFor(t, func() bool { return fired.Load() == 1 })

	next, ok := r.Next(testHook)
	if !ok {
		t.Fatal("hook not scheduled")
	}
	if until := time.Until(next); until < 59*time.Minute {
		t.Errorf("next firing in %v, want about an hour", until)
	}
}

func TestScheduleWhileRunning(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Start()
	defer r.Stop()

	var fired atomic.Int32
	r.Bind(testHook, func() { fired.Add(1) })
	if err := r.EnsureScheduled(testHook, time.Hour); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fired.Load() == 1 })
}

func TestPanickingJobKeepsTimerAlive(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var fired atomic.Int32
	r.Bind(testHook, func() {
		fired.Add(1)
		panic("sweep blew up")
	})
	if err := r.EnsureScheduled(testHook, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	r.Start()
	defer r.Stop()

	waitFor(t, func() bool { return fired.Load() >= 3 })
}

func TestStopWaitsForRunningJob(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	started := make(chan struct{})
	var finished atomic.Bool
	r.Bind(testHook, func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})
	if err := r.EnsureScheduled(testHook, time.Hour); err != nil {
		t.Fatal(err)
	}
	r.Start()
	<-started

	ctx := r.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Stop context never completed")
	}
	if !finished.Load() {
		t.Error("Stop returned before the running job finished")
	}
}

func TestEveryFromNow(t *testing.T) {
	s := &everyFromNow{interval: 5 * time.Minute}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := s.Next(base); !got.Equal(base) {
		t.Errorf("first Next = %v, want %v", got, base)
	}
	if got := s.Next(base); !got.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("second Next = %v, want %v", got, base.Add(5*time.Minute))
	}
}
