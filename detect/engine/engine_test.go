package engine

import (
	"fmt"
	"math"
	"testing"
	"time"

	"floodsentry/detect/config"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testEngine pins the engine clock to base+10s (the usual evaluation
// instant) and returns a pointer for tests that need to move it.
func testEngine(cfg *config.Config) (*Engine, *time.Time) {
	e := New(cfg, nil)
	now := new(time.Time)
	*now = base.Add(10 * time.Second)
	e.nowFunc = func() time.Time { return *now }
	return e, now
}

// flood ingests n events for one source spread over the first half of the window.
func flood(t *testing.T, e *Engine, source string, n int) {
	t.Helper()
	step := 5 * time.Second / time.Duration(n)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i+1) * step)
		if !e.Ingest(source, ts) {
			t.Fatalf("Ingest(%s, %s) rejected", source, ts)
		}
	}
}

// Test the threat score blend on a single-source flood
func TestEvaluateBlendsRateAndEntropy(t *testing.T) {
	cfg := config.DefaultConfig()
	e, _ := testEngine(cfg)

	// 100 events in a 10s window from one source: rate 10/s, rate score
	// 10/50 = 0.2; a single source scores anomaly 1.0.
	flood(t, e, "10.0.0.1", 100)

	pushed := e.Evaluate(base.Add(10 * time.Second))
	if len(pushed) != 1 {
		t.Fatalf("Evaluate pushed %d entries, want 1", len(pushed))
	}

	want := cfg.RateWeight*0.2 + cfg.EntropyWeight*1.0
	if math.Abs(pushed[0].Score-want) > 0.0001 {
		t.Errorf("Score = %.4f, want %.4f", pushed[0].Score, want)
	}
	if pushed[0].Source != "10.0.0.1" {
		t.Errorf("Source = %q, want 10.0.0.1", pushed[0].Source)
	}

	rec, ok := e.QueryState("10.0.0.1")
	if !ok {
		t.Fatal("Source missing from cache after evaluation")
	}
	if math.Abs(rec.Rate-10) > 0.0001 {
		t.Errorf("Rate = %.2f, want 10", rec.Rate)
	}
	if rec.Hits != 100 {
		t.Errorf("Hits = %d, want 100", rec.Hits)
	}
}

// Test that a prior score decays instead of vanishing when traffic drops
func TestEvaluateScoreDecayFloor(t *testing.T) {
	cfg := config.DefaultConfig()
	e, now := testEngine(cfg)

	flood(t, e, "10.0.0.1", 100)
	first := e.Evaluate(base.Add(10 * time.Second))
	if len(first) != 1 {
		t.Fatalf("First tick pushed %d entries, want 1", len(first))
	}

	// One lone event twenty seconds later: the instantaneous score is far
	// below the decayed previous score, so the floor must win.
	*now = base.Add(30 * time.Second)
	if !e.Ingest("10.0.0.1", base.Add(29*time.Second)) {
		t.Fatal("Ingest rejected")
	}
	second := e.Evaluate(base.Add(30 * time.Second))
	if len(second) != 1 {
		t.Fatalf("Second tick pushed %d entries, want 1", len(second))
	}

	want := first[0].Score * cfg.ScoreDecay
	if math.Abs(second[0].Score-want) > 0.0001 {
		t.Errorf("Decayed score = %.4f, want %.4f", second[0].Score, want)
	}
}

// Test that quiet sources stay below the reporting threshold
func TestEvaluateQuietTrafficNotReported(t *testing.T) {
	cfg := config.DefaultConfig()
	e, _ := testEngine(cfg)

	// 30 sources at 1 req/s each: high entropy, low per-source rate.
	for i := 0; i < 30; i++ {
		source := fmt.Sprintf("192.168.1.%d", i+1)
		for j := 0; j < 10; j++ {
			ts := base.Add(time.Duration(j)*time.Second + time.Duration(i)*time.Millisecond + time.Millisecond)
			if !e.Ingest(source, ts) {
				t.Fatalf("Ingest rejected")
			}
		}
	}

	pushed := e.Evaluate(base.Add(10 * time.Second))
	if len(pushed) != 0 {
		t.Errorf("Quiet traffic pushed %d threat entries: %v", len(pushed), pushed)
	}
	if e.Queue().Len() != 0 {
		t.Errorf("QueueDepth = %d for quiet traffic, want 0", e.Queue().Len())
	}
}

func TestEvaluateReturnsEntriesInScoreOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	e, _ := testEngine(cfg)

	flood(t, e, "10.0.0.1", 200)
	flood(t, e, "10.0.0.2", 400)
	flood(t, e, "10.0.0.3", 100)

	pushed := e.Evaluate(base.Add(10 * time.Second))
	for i := 1; i < len(pushed); i++ {
		if pushed[i].Score > pushed[i-1].Score {
			t.Errorf("pushed[%d].Score %.4f > pushed[%d].Score %.4f",
				i, pushed[i].Score, i-1, pushed[i-1].Score)
		}
	}
	if len(pushed) == 0 || pushed[0].Source != "10.0.0.2" {
		t.Errorf("Hottest source not first: %v", pushed)
	}
	if e.Queue().Len() != len(pushed) {
		t.Errorf("QueueDepth = %d, want %d", e.Queue().Len(), len(pushed))
	}
}

// Test the ingestion drop policies: backpressure, future skew, staleness
func TestIngestDropPolicies(t *testing.T) {
	t.Run("backpressure drops instead of queueing", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.IngestBufferSize = 2
		e, _ := testEngine(cfg)

		if !e.Ingest("a", base) || !e.Ingest("a", base.Add(time.Millisecond)) {
			t.Fatal("Buffered ingests rejected")
		}
		if e.Ingest("a", base.Add(2*time.Millisecond)) {
			t.Error("Third ingest accepted past a full buffer")
		}
		if got := e.Stats().DroppedBackoff; got != 1 {
			t.Errorf("DroppedBackoff = %d, want 1", got)
		}
	})

	t.Run("future timestamps beyond skew", func(t *testing.T) {
		e, _ := testEngine(config.DefaultConfig())

		if e.Ingest("a", base.Add(time.Minute)) {
			t.Error("Far-future event accepted")
		}
		// Slightly ahead of the clock but inside the tolerated skew.
		if !e.Ingest("a", base.Add(11*time.Second)) {
			t.Error("Event within skew rejected")
		}
		if got := e.Stats().DroppedFuture; got != 1 {
			t.Errorf("DroppedFuture = %d, want 1", got)
		}
	})

	t.Run("empty key", func(t *testing.T) {
		e, _ := testEngine(config.DefaultConfig())
		if e.Ingest("", base) {
			t.Error("Empty key accepted")
		}
	})

	t.Run("stale events dropped at evaluation", func(t *testing.T) {
		e, _ := testEngine(config.DefaultConfig())

		flood(t, e, "a", 10)
		e.Evaluate(base.Add(30 * time.Second))

		// The window has moved on; this event is behind its trailing edge.
		if !e.Ingest("a", base.Add(time.Second)) {
			t.Fatal("Stale event rejected at ingest; it should drop at evaluation")
		}
		e.Evaluate(base.Add(31 * time.Second))
		if got := e.Stats().DroppedStale; got != 1 {
			t.Errorf("DroppedStale = %d, want 1", got)
		}
	})
}

// Test that the diagnostic read path does not disturb eviction order
func TestQueryStateDoesNotPromote(t *testing.T) {
	cfg := config.DefaultConfig()
	e, _ := testEngine(cfg)

	flood(t, e, "10.0.0.1", 100)
	e.Evaluate(base.Add(10 * time.Second))

	before, ok := e.QueryState("10.0.0.1")
	if !ok {
		t.Fatal("QueryState miss for tracked source")
	}
	for i := 0; i < 5; i++ {
		if _, ok := e.QueryState("10.0.0.1"); !ok {
			t.Fatal("QueryState became a miss")
		}
	}
	after, _ := e.QueryState("10.0.0.1")
	if before != after {
		t.Errorf("QueryState mutated the record: %+v vs %+v", before, after)
	}

	if _, ok := e.QueryState("10.9.9.9"); ok {
		t.Error("QueryState hit for untracked source")
	}
}

func TestRecordActionFeedback(t *testing.T) {
	e, _ := testEngine(config.DefaultConfig())

	flood(t, e, "10.0.0.1", 100)
	e.Evaluate(base.Add(10 * time.Second))

	e.RecordAction("10.0.0.1", "block")
	rec, ok := e.QueryState("10.0.0.1")
	if !ok || rec.LastAction != "block" {
		t.Errorf("LastAction = %q, want block", rec.LastAction)
	}

	// Feedback for an evicted or unknown source is a no-op.
	e.RecordAction("10.9.9.9", "block")
	if _, ok := e.QueryState("10.9.9.9"); ok {
		t.Error("RecordAction created a record for an unknown source")
	}
}

func TestTopOffenders(t *testing.T) {
	e, _ := testEngine(config.DefaultConfig())

	flood(t, e, "10.0.0.1", 100)
	flood(t, e, "10.0.0.2", 300)
	e.Evaluate(base.Add(10 * time.Second))

	top := e.TopOffenders(1)
	if len(top) != 1 || top[0].Key != "10.0.0.2" {
		t.Errorf("TopOffenders(1) = %v, want the hotter source", top)
	}

	all := e.TopOffenders(0)
	if len(all) != 2 {
		t.Errorf("TopOffenders(0) returned %d records, want 2", len(all))
	}
}

func TestApplyConfig(t *testing.T) {
	e, _ := testEngine(config.DefaultConfig())

	t.Run("invalid update rejected", func(t *testing.T) {
		bad := config.DefaultConfig()
		bad.WindowSec = -1
		e.ApplyConfig(bad)
		if e.scorer.HMax() != config.DefaultConfig().HMax {
			t.Error("Rejected config still mutated the scorer")
		}
	})

	t.Run("valid update applied", func(t *testing.T) {
		good := config.DefaultConfig()
		good.HMax = 4
		good.ReportThreshold = 0.9
		e.ApplyConfig(good)
		if e.scorer.HMax() != 4 {
			t.Errorf("HMax = %v after update, want 4", e.scorer.HMax())
		}

		flood(t, e, "10.0.0.1", 100)
		if pushed := e.Evaluate(base.Add(10 * time.Second)); len(pushed) != 0 {
			t.Errorf("Raised threshold still pushed %d entries", len(pushed))
		}
	})
}

// Test that live config updates are safe against a running evaluation loop
func TestApplyConfigConcurrentWithEvaluate(t *testing.T) {
	e, _ := testEngine(config.DefaultConfig())
	flood(t, e, "10.0.0.1", 100)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			cfg := config.DefaultConfig()
			cfg.HMax = float64(i%8 + 1)
			e.ApplyConfig(cfg)
		}
	}()

	for i := 0; i < 200; i++ {
		for _, entry := range e.Evaluate(base.Add(10 * time.Second)) {
			if entry.Score < 0 || entry.Score > 1 {
				t.Fatalf("Score = %v out of bounds during config reload", entry.Score)
			}
		}
	}
	<-done
}

func TestResetKeepsSourceHistory(t *testing.T) {
	e, _ := testEngine(config.DefaultConfig())

	flood(t, e, "10.0.0.1", 100)
	e.Evaluate(base.Add(10 * time.Second))
	if e.Queue().Len() == 0 {
		t.Fatal("Expected queued threat before reset")
	}

	e.Reset()

	if e.Queue().Len() != 0 {
		t.Errorf("QueueDepth = %d after reset, want 0", e.Queue().Len())
	}
	if stats := e.Stats(); stats.TotalEvents != 0 {
		t.Errorf("TotalEvents = %d after reset, want 0", stats.TotalEvents)
	}
	// Block and score history survives a window reset.
	if _, ok := e.QueryState("10.0.0.1"); !ok {
		t.Error("Source history lost on reset")
	}
}

func BenchmarkIngest(b *testing.B) {
	e := New(config.DefaultConfig(), nil)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		e.Ingest("10.0.0.1", time.Now())
		if i%1024 == 0 {
			e.drainPending()
		}
	}
}

func BenchmarkEvaluate(b *testing.B) {
	e := New(config.DefaultConfig(), nil)
	e.nowFunc = func() time.Time { return base }
	for i := 0; i < 5000; i++ {
		e.Ingest(fmt.Sprintf("10.0.%d.%d", i%50, i%250), base.Add(time.Duration(i)*time.Millisecond))
	}
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		e.Evaluate(base.Add(10 * time.Second))
	}
}
