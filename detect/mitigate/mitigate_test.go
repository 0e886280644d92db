package mitigate

import (
	"testing"
	"time"

	"floodsentry/detect/config"
	"floodsentry/detect/threatq"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSink struct {
	actions map[string]string
}

func (f *fakeSink) RecordAction(key, action string) {
	if f.actions == nil {
		f.actions = make(map[string]string)
	}
	f.actions[key] = action
}

func testMitigator() (*Mitigator, *threatq.Queue, *fakeSink, *time.Time) {
	q := threatq.NewQueue()
	sink := &fakeSink{}
	m := New(config.DefaultConfig(), q, sink, nil)
	now := new(time.Time)
	*now = base
	m.nowFn = func() time.Time { return *now }
	return m, q, sink, now
}

// Test the threshold ladder from no action through permanent block
func TestApplyThresholdLadder(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  Action
		hits  int // pre-existing rate-limit hits for the source
	}{
		{"below all thresholds", 0.2, ActionNone, 0},
		{"just under rate limit", 0.39, ActionNone, 0},
		{"rate limit", 0.45, ActionRateLimit, 0},
		{"challenge", 0.65, ActionChallenge, 0},
		{"challenge escalates on high score", 0.75, ActionBlock, 0},
		{"challenge escalates on long history", 0.65, ActionBlock, 11},
		{"block", 0.85, ActionBlock, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, sink, _ := testMitigator()
			if tt.hits > 0 {
				m.limitHits["10.0.0.1"] = tt.hits
			}

			action, outcome := m.Apply(threatq.Entry{Source: "10.0.0.1", Score: tt.score})
			if action != tt.want {
				t.Errorf("Apply = %q, want %q", action, tt.want)
			}
			if outcome != Fresh {
				t.Errorf("Outcome = %v, want Fresh", outcome)
			}
			if tt.want != ActionNone && sink.actions["10.0.0.1"] != string(tt.want) {
				t.Errorf("Sink recorded %q, want %q", sink.actions["10.0.0.1"], tt.want)
			}
		})
	}
}

// Test that repeated rate limiting escalates to a challenge
func TestRateLimitEscalation(t *testing.T) {
	m, _, _, _ := testMitigator()
	entry := threatq.Entry{Source: "10.0.0.1", Score: 0.45}

	for i := 0; i < 5; i++ {
		if action, _ := m.Apply(entry); action != ActionRateLimit {
			t.Fatalf("Apply #%d = %q, want rate_limit", i+1, action)
		}
	}
	if action, _ := m.Apply(entry); action != ActionChallenge {
		t.Errorf("Sixth apply = %q, want challenge escalation", action)
	}

	for i := 7; i <= 10; i++ {
		if action, _ := m.Apply(entry); action != ActionChallenge {
			t.Fatalf("Apply #%d = %q, want challenge", i, action)
		}
	}
	// Past ten hits the challenge itself escalates to a light block.
	if action, _ := m.Apply(entry); action != ActionBlock {
		t.Errorf("Eleventh apply = %q, want block escalation", action)
	}
	if b := m.BlockedSources(); len(b) != 1 || b[0].Severity != severityLight {
		t.Errorf("Block = %+v, want light severity", b)
	}
}

// Test that a queued entry for an already blocked source is not an error
func TestApplyAlreadyHandled(t *testing.T) {
	m, _, _, _ := testMitigator()
	entry := threatq.Entry{Source: "10.0.0.1", Score: 0.9}

	if action, outcome := m.Apply(entry); action != ActionBlock || outcome != Fresh {
		t.Fatalf("First apply = (%q, %v), want fresh block", action, outcome)
	}

	// Duplicate and stale queue entries for the source simply stand down.
	for _, score := range []float64{0.9, 0.5, 0.95} {
		action, outcome := m.Apply(threatq.Entry{Source: "10.0.0.1", Score: score})
		if action != ActionBlock || outcome != AlreadyHandled {
			t.Errorf("Apply(%.2f) = (%q, %v), want (block, AlreadyHandled)", score, action, outcome)
		}
	}

	if got := m.GetStatus().TotalMitigated; got != 1 {
		t.Errorf("TotalMitigated = %d, want 1; duplicates must not re-count", got)
	}
}

// Test block durations: severe is permanent, medium expires
func TestBlockDurations(t *testing.T) {
	t.Run("severe block is permanent", func(t *testing.T) {
		m, _, _, now := testMitigator()
		m.Apply(threatq.Entry{Source: "10.0.0.1", Score: 0.9})

		*now = base.Add(365 * 24 * time.Hour)
		if !m.IsBlocked("10.0.0.1") {
			t.Error("Severe block expired")
		}
		if removed := m.Cleanup(); removed != 0 {
			t.Errorf("Cleanup removed %d permanent blocks", removed)
		}
	})

	t.Run("light block expires after ten minutes", func(t *testing.T) {
		m, _, _, now := testMitigator()
		// A long rate-limit history at challenge level earns the short block.
		m.limitHits["10.0.0.3"] = 11
		if action, _ := m.Apply(threatq.Entry{Source: "10.0.0.3", Score: 0.65}); action != ActionBlock {
			t.Fatalf("Apply = %q, want block", action)
		}
		if b := m.BlockedSources(); len(b) != 1 || b[0].Severity != severityLight {
			t.Fatalf("Block = %+v, want light severity", b)
		}

		*now = base.Add(9 * time.Minute)
		if !m.IsBlocked("10.0.0.3") {
			t.Error("Light block expired early")
		}
		*now = base.Add(11 * time.Minute)
		if m.IsBlocked("10.0.0.3") {
			t.Error("Light block outlived its duration")
		}
	})

	t.Run("medium block expires", func(t *testing.T) {
		m, _, _, now := testMitigator()
		// Score above the challenge escalation bar but below the block
		// threshold lands a medium block.
		m.Apply(threatq.Entry{Source: "10.0.0.2", Score: 0.75})
		if !m.IsBlocked("10.0.0.2") {
			t.Fatal("Expected active block")
		}

		*now = base.Add(59 * time.Minute)
		if !m.IsBlocked("10.0.0.2") {
			t.Error("Medium block expired early")
		}

		*now = base.Add(61 * time.Minute)
		if m.IsBlocked("10.0.0.2") {
			t.Error("Medium block outlived its duration")
		}
		if removed := m.Cleanup(); removed != 1 {
			t.Errorf("Cleanup removed %d, want 1", removed)
		}
	})
}

// Test that an expired block allows a fresh decision again
func TestExpiredBlockAllowsFreshDecision(t *testing.T) {
	m, _, _, now := testMitigator()
	m.Apply(threatq.Entry{Source: "10.0.0.1", Score: 0.75})

	*now = base.Add(2 * time.Hour)
	action, outcome := m.Apply(threatq.Entry{Source: "10.0.0.1", Score: 0.9})
	if action != ActionBlock || outcome != Fresh {
		t.Errorf("Apply after expiry = (%q, %v), want fresh block", action, outcome)
	}
}

func TestUnblock(t *testing.T) {
	m, _, _, _ := testMitigator()
	m.Apply(threatq.Entry{Source: "10.0.0.1", Score: 0.9})

	if !m.Unblock("10.0.0.1") {
		t.Error("Unblock = false for blocked source")
	}
	if m.IsBlocked("10.0.0.1") {
		t.Error("Source still blocked after unblock")
	}
	if m.Unblock("10.0.0.1") {
		t.Error("Second unblock = true")
	}

	// Escalation history is forgotten too.
	if len(m.limitHits) != 0 {
		t.Errorf("limitHits not cleared: %v", m.limitHits)
	}
}

// Test draining the queue worst-offender first
func TestDrain(t *testing.T) {
	m, q, sink, _ := testMitigator()

	q.Push(threatq.Entry{Source: "low", Score: 0.2})
	q.Push(threatq.Entry{Source: "mid", Score: 0.45})
	q.Push(threatq.Entry{Source: "high", Score: 0.9})
	q.Push(threatq.Entry{Source: "high", Score: 0.85}) // duplicate

	fresh := m.Drain()
	if fresh != 3 {
		t.Errorf("Drain = %d fresh decisions, want 3", fresh)
	}
	if q.Len() != 0 {
		t.Errorf("Queue depth = %d after drain, want 0", q.Len())
	}
	if !m.IsBlocked("high") {
		t.Error("high not blocked")
	}
	if m.IsBlocked("mid") || m.IsBlocked("low") {
		t.Error("Unexpected block on lower-score source")
	}
	if sink.actions["mid"] != string(ActionRateLimit) {
		t.Errorf("mid action = %q, want rate_limit", sink.actions["mid"])
	}
	if _, ok := sink.actions["low"]; ok {
		t.Error("Sink recorded an action for a below-threshold source")
	}
}

func TestRecentActionsNewestFirst(t *testing.T) {
	m, _, _, now := testMitigator()

	for i, source := range []string{"a", "b", "c"} {
		*now = base.Add(time.Duration(i) * time.Minute)
		m.Apply(threatq.Entry{Source: source, Score: 0.9})
	}

	actions := m.RecentActions(2)
	if len(actions) != 2 {
		t.Fatalf("RecentActions(2) returned %d", len(actions))
	}
	if actions[0].Source != "c" || actions[1].Source != "b" {
		t.Errorf("Order = [%s %s], want [c b]", actions[0].Source, actions[1].Source)
	}

	if got := len(m.RecentActions(0)); got != 3 {
		t.Errorf("RecentActions(0) returned %d, want all 3", got)
	}
}

func TestGetStatus(t *testing.T) {
	m, _, _, _ := testMitigator()

	m.Apply(threatq.Entry{Source: "blocked", Score: 0.9})
	m.Apply(threatq.Entry{Source: "limited", Score: 0.45})

	status := m.GetStatus()
	if status.ActiveBlocks != 1 {
		t.Errorf("ActiveBlocks = %d, want 1", status.ActiveBlocks)
	}
	if status.RateLimited != 1 {
		t.Errorf("RateLimited = %d, want 1", status.RateLimited)
	}
	if status.TotalMitigated != 2 {
		t.Errorf("TotalMitigated = %d, want 2", status.TotalMitigated)
	}
}

func TestBlockedSourcesNewestFirst(t *testing.T) {
	m, _, _, now := testMitigator()

	*now = base
	m.Apply(threatq.Entry{Source: "first", Score: 0.9})
	*now = base.Add(time.Minute)
	m.Apply(threatq.Entry{Source: "second", Score: 0.9})

	blocks := m.BlockedSources()
	if len(blocks) != 2 {
		t.Fatalf("BlockedSources returned %d, want 2", len(blocks))
	}
	if blocks[0].Source != "second" {
		t.Errorf("blocks[0] = %s, want second", blocks[0].Source)
	}
	if blocks[0].Severity != severitySevere || !blocks[0].ExpiresAt.IsZero() {
		t.Errorf("Severe block metadata wrong: %+v", blocks[0])
	}
}

func TestApplyConfigSwapsThresholds(t *testing.T) {
	m, _, _, _ := testMitigator()

	strict := config.StrictConfig()
	m.ApplyConfig(strict)

	// 0.72 is above the strict block threshold of 0.7.
	if action, _ := m.Apply(threatq.Entry{Source: "10.0.0.1", Score: 0.72}); action != ActionBlock {
		t.Errorf("Apply = %q under strict config, want block", action)
	}

	bad := config.DefaultConfig()
	bad.WindowSec = 0
	m.ApplyConfig(bad)
	if m.cfg != strict {
		t.Error("Invalid config replaced the active one")
	}
}
