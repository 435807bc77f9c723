package leadership

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestNewElectionValidation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	if _, err := NewElection(client, ElectionConfig{}, zerolog.Nop()); err == nil {
		t.Error("expected error for empty key")
	}

	cfg := DefaultConfig("hook")
	cfg.RenewalInterval = cfg.LeaseDuration
	if _, err := NewElection(client, cfg, zerolog.Nop()); err == nil {
		t.Error("expected error when renewal is not shorter than lease")
	}

	e, err := NewElection(client, ElectionConfig{ElectionKey: Key("hook")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewElection: %v", err)
	}
	if e.InstanceID() == "" {
		t.Error("instance id not generated")
	}
	if e.config.LeaseDuration != defaultLeaseDuration || e.config.RetryInterval != defaultRetryInterval {
		t.Errorf("defaults not applied: %+v", e.config)
	}
}

func TestKey(t *testing.T) {
	if got := Key("catchup_scheduled_item_checker"); got != "catchup:leader:catchup_scheduled_item_checker" {
		t.Errorf("Key = %q", got)
	}
	if DefaultConfig("x").ElectionKey != Key("x") {
		t.Error("DefaultConfig does not use Key")
	}
}

func TestUpdateLeadershipStatusKeepsLatest(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	e, err := NewElection(client, DefaultConfig("hook"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	e.updateLeadershipStatus(true)
	e.updateLeadershipStatus(false)
	e.updateLeadershipStatus(true)
	e.updateLeadershipStatus(true) // no change, no notification

	if !e.IsLeader() {
		t.Fatal("expected leader")
	}
	select {
	case v := <-e.LeaderCh():
		if !v {
			t.Errorf("latest status = %v, want true", v)
		}
	default:
		t.Fatal("no status change delivered")
	}
	select {
	case v := <-e.LeaderCh():
		t.Errorf("unexpected extra status %v", v)
	default:
	}
}

// TestElectionAgainstRedis runs only when CATCHUP_TEST_REDIS_ADDR is set.
func TestElectionAgainstRedis(t *testing.T) {
	addr := os.Getenv("CATCHUP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CATCHUP_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	key := Key("election-test-" + time.Now().Format("150405.000000"))
	cfg := ElectionConfig{
		ElectionKey:     key,
		LeaseDuration:   2 * time.Second,
		RenewalInterval: 200 * time.Millisecond,
		RetryInterval:   100 * time.Millisecond,
	}

	cfg.InstanceID = "a"
	a, err := NewElection(client, cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	cfg.InstanceID = "b"
	b, err := NewElection(client, cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	_ = a.Start(ctx)
	_ = b.Start(ctx)
	defer b.Stop()

	if !a.IsLeader() || b.IsLeader() {
		t.Fatalf("a=%v b=%v, want a to lead", a.IsLeader(), b.IsLeader())
	}
	if leader, _ := b.GetLeader(ctx); leader != "a" {
		t.Errorf("GetLeader = %q, want a", leader)
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for !b.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !b.IsLeader() {
		t.Error("b did not take over after a released the lock")
	}
}
