package engine

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"floodsentry/detect/attacklog"
	"floodsentry/detect/config"
	"floodsentry/detect/entropy"
	"floodsentry/detect/lru"
	"floodsentry/detect/metrics"
	"floodsentry/detect/threatq"
	"floodsentry/detect/window"
)

type event struct {
	key string
	ts  time.Time
}

// Stats is a point-in-time view of the detection core for dashboards and
// the /api/stats endpoint.
type Stats struct {
	Entropy        float64   `json:"entropy"`
	AnomalyScore   float64   `json:"anomaly_score"`
	TotalEvents    int       `json:"total_events"`
	UniqueSources  int       `json:"unique_sources"`
	RequestsPerSec float64   `json:"requests_per_second"`
	CacheSize      int       `json:"cache_size"`
	CacheCapacity  int       `json:"cache_capacity"`
	QueueDepth     int       `json:"queue_depth"`
	Ingested       uint64    `json:"ingested"`
	DroppedStale   uint64    `json:"dropped_stale"`
	DroppedFuture  uint64    `json:"dropped_future"`
	DroppedBackoff uint64    `json:"dropped_backpressure"`
	LastEval       time.Time `json:"last_eval"`
}

// Engine owns the four detection structures and runs the composite
// evaluation tick. All mutation funnels through one goroutine (Run) fed by
// a bounded event buffer; when ingestion outruns processing, new events are
// dropped rather than queued without bound, so detection latency stays
// bounded under exactly the floods this exists to detect.
type Engine struct {
	mu     sync.Mutex
	cfg    *config.Config
	scorer *entropy.Scorer

	counter *window.Counter
	cache   *lru.Cache
	queue   *threatq.Queue

	events  chan event
	reconf  chan struct{}
	alog    *attacklog.Logger
	nowFunc func() time.Time

	ingested       atomic.Uint64
	droppedStale   atomic.Uint64
	droppedFuture  atomic.Uint64
	droppedBackoff atomic.Uint64

	lastSnap entropy.Snapshot
	lastEval time.Time
}

// New creates an engine from an injected configuration. The attack logger
// may be nil when event logging is disabled.
func New(cfg *config.Config, alog *attacklog.Logger) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if alog == nil {
		alog = attacklog.New(attacklog.Config{})
	}
	return &Engine{
		cfg:     cfg,
		scorer:  entropy.NewScorer(cfg.HMax),
		counter: window.NewCounter(cfg.WindowSize()),
		cache:   lru.NewCache(cfg.CacheCapacity),
		queue:   threatq.NewQueue(),
		events:  make(chan event, cfg.IngestBufferSize),
		reconf:  make(chan struct{}, 1),
		alog:    alog,
		nowFunc: time.Now,
	}
}

// Queue exposes the threat priority queue to the mitigation consumer.
func (e *Engine) Queue() *threatq.Queue {
	return e.queue
}

// Ingest accepts one observed request. It never blocks: invalid or future
// timestamps are dropped and counted, and when the pending-event buffer is
// full the event is dropped under backpressure. Returns false whenever the
// event was not accepted.
func (e *Engine) Ingest(key string, ts time.Time) bool {
	if key == "" {
		metrics.EventsDropped.WithLabelValues("invalid").Inc()
		return false
	}

	e.mu.Lock()
	skew := time.Duration(e.cfg.FutureSkewSec) * time.Second
	e.mu.Unlock()
	if ts.After(e.nowFunc().Add(skew)) {
		e.droppedFuture.Add(1)
		metrics.EventsDropped.WithLabelValues("future").Inc()
		return false
	}

	select {
	case e.events <- event{key: key, ts: ts}:
		return true
	default:
		e.droppedBackoff.Add(1)
		metrics.EventsDropped.WithLabelValues("backpressure").Inc()
		return false
	}
}

// Run processes ingested events and fires the evaluation tick until the
// context is cancelled. It is the single writer for the window counter.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	interval := e.cfg.EvalInterval()
	e.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.record(ev)
		case <-ticker.C:
			e.Evaluate(e.nowFunc())
		case <-e.reconf:
			e.mu.Lock()
			next := e.cfg.EvalInterval()
			e.mu.Unlock()
			if next != interval {
				interval = next
				ticker.Reset(interval)
				log.Printf("engine: evaluation cadence now %s", interval)
			}
		}
	}
}

func (e *Engine) record(ev event) {
	if err := e.counter.Record(ev.key, ev.ts); err != nil {
		e.droppedStale.Add(1)
		metrics.EventsDropped.WithLabelValues("stale").Inc()
		return
	}
	e.ingested.Add(1)
	metrics.EventsIngested.Inc()
}

// drainPending folds all buffered events into the window counter without
// blocking. Called before every evaluation so a caller-driven Evaluate sees
// everything ingested so far.
func (e *Engine) drainPending() {
	for {
		select {
		case ev := <-e.events:
			e.record(ev)
		default:
			return
		}
	}
}

// Evaluate runs one composite tick at the given time: snapshot the window,
// score the distribution, blend per-source threat scores, update the source
// cache, and push every source at or above the reporting threshold into the
// threat queue. Returns the entries pushed this tick.
//
// The blend is score = RateWeight*min(rate/RateCeiling, 1) +
// EntropyWeight*anomaly, floored by the source's previous score decayed by
// ScoreDecay so a brief lull does not instantly forgive an offender.
func (e *Engine) Evaluate(now time.Time) []threatq.Entry {
	e.drainPending()

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	snap := e.counter.Snapshot(now)
	esnap := e.scorer.Score(snap)
	windowSec := e.counter.WindowSize().Seconds()

	var pushed []threatq.Entry
	for key, count := range snap {
		rate := float64(count) / windowSec
		rateScore := rate / cfg.RateCeiling
		if rateScore > 1 {
			rateScore = 1
		}
		score := cfg.RateWeight*rateScore + cfg.EntropyWeight*esnap.AnomalyScore

		prev, existed := e.cache.Peek(key)
		if existed {
			if decayed := prev.Score * cfg.ScoreDecay; decayed > score {
				score = decayed
			}
		}

		rec := lru.Record{
			Key:        key,
			Rate:       rate,
			Score:      score,
			LastAction: prev.LastAction,
			LastSeen:   now,
			Hits:       prev.Hits + count,
		}
		if _, evicted := e.cache.Put(key, rec); evicted {
			metrics.CacheEvictions.Inc()
		}

		if score >= cfg.ReportThreshold {
			entry := threatq.Entry{Source: key, Score: score}
			e.queue.Push(entry)
			pushed = append(pushed, entry)
			metrics.ThreatsReported.Inc()
			e.alog.Log(attacklog.Event{
				EventType:     "detection",
				Source:        key,
				Score:         score,
				Rate:          rate,
				Entropy:       esnap.Entropy,
				AnomalyScore:  esnap.AnomalyScore,
				UniqueSources: esnap.Sources,
				TotalEvents:   esnap.Total,
				Message:       "threat score crossed reporting threshold",
				Tags:          []string{"detection"},
			})
		}
	}

	// Highest score first so the returned slice matches the order the
	// consumer will pop them in.
	sort.Slice(pushed, func(i, j int) bool { return pushed[i].Score > pushed[j].Score })

	metrics.Evaluations.Inc()
	metrics.WindowEntropy.Set(esnap.Entropy)
	metrics.AnomalyScore.Set(esnap.AnomalyScore)
	metrics.UniqueSources.Set(float64(esnap.Sources))
	metrics.WindowEvents.Set(float64(esnap.Total))
	metrics.CacheSize.Set(float64(e.cache.Len()))
	metrics.QueueDepth.Set(float64(e.queue.Len()))

	e.mu.Lock()
	e.lastSnap = esnap
	e.lastEval = now
	e.mu.Unlock()

	return pushed
}

// QueryState is the read-only introspection surface for dashboards. Unlike
// a cache Get it must not promote the key, so a diagnostic read never
// perturbs eviction order.
func (e *Engine) QueryState(key string) (lru.Record, bool) {
	return e.cache.Peek(key)
}

// RecordAction feeds the mitigation outcome back into the source state.
// A source already evicted from the cache is left alone.
func (e *Engine) RecordAction(key, action string) {
	rec, ok := e.cache.Get(key)
	if !ok {
		return
	}
	rec.LastAction = action
	e.cache.Put(key, rec)
}

// Forget removes a source from the cache entirely (admin unblock).
func (e *Engine) Forget(key string) {
	e.cache.Remove(key)
}

// TopOffenders returns up to n tracked sources ordered by score descending.
func (e *Engine) TopOffenders(n int) []lru.Record {
	recs := e.cache.Snapshot()
	sort.Slice(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if n > 0 && len(recs) > n {
		recs = recs[:n]
	}
	return recs
}

// Stats returns a snapshot of the core's current state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	snap := e.lastSnap
	last := e.lastEval
	e.mu.Unlock()

	windowSec := e.counter.WindowSize().Seconds()
	return Stats{
		Entropy:        snap.Entropy,
		AnomalyScore:   snap.AnomalyScore,
		TotalEvents:    snap.Total,
		UniqueSources:  snap.Sources,
		RequestsPerSec: float64(snap.Total) / windowSec,
		CacheSize:      e.cache.Len(),
		CacheCapacity:  e.cache.Capacity(),
		QueueDepth:     e.queue.Len(),
		Ingested:       e.ingested.Load(),
		DroppedStale:   e.droppedStale.Load(),
		DroppedFuture:  e.droppedFuture.Load(),
		DroppedBackoff: e.droppedBackoff.Load(),
		LastEval:       last,
	}
}

// ApplyConfig re-applies the live-tunable policy parameters: blend weights,
// thresholds, entropy ceiling, decay and cadence. Window size, buffer size
// and cache capacity are structural and require a restart.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("engine: rejected config update: %v", err)
		return
	}

	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.scorer.SetHMax(cfg.HMax)

	select {
	case e.reconf <- struct{}{}:
	default:
	}
}

// Reset clears window and queue state. The source cache survives so block
// history is not forgotten; callers wanting a full wipe create a new engine.
func (e *Engine) Reset() {
	e.drainPending()
	e.counter.Reset()
	for {
		if _, ok := e.queue.PopMax(); !ok {
			break
		}
	}
	e.mu.Lock()
	e.lastSnap = entropy.Snapshot{}
	e.mu.Unlock()
}
