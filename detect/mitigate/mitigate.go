package mitigate

import (
	"context"
	"sort"
	"sync"
	"time"

	"floodsentry/detect/attacklog"
	"floodsentry/detect/config"
	"floodsentry/detect/metrics"
	"floodsentry/detect/threatq"
)

// Action is the mitigation decision for one threat entry.
type Action string

const (
	ActionNone      Action = "none"
	ActionRateLimit Action = "rate_limit"
	ActionChallenge Action = "challenge"
	ActionBlock     Action = "block"
)

// Outcome distinguishes a fresh decision from a queue entry that arrived
// for a source already being acted on. The heap is a scheduling structure,
// not a deduplicated set, so stale and duplicate entries are expected and
// are never treated as errors.
type Outcome int

const (
	Fresh Outcome = iota
	AlreadyHandled
)

// Severity levels for blocks, which control how long a block lasts.
const (
	severityLight  = "light"
	severityMedium = "medium"
	severitySevere = "severe"
)

// Block records one blocked source. A zero ExpiresAt means permanent.
type Block struct {
	Source    string    `json:"source"`
	Severity  string    `json:"severity"`
	Score     float64   `json:"score"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Reason    string    `json:"reason"`
}

// ActionRecord is one applied mitigation, kept for the dashboard.
type ActionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Action    Action    `json:"action"`
	Score     float64   `json:"score"`
}

const maxActionHistory = 1000

// StateSink receives mitigation outcomes so they can be folded back into
// the per-source state. The detection engine satisfies this.
type StateSink interface {
	RecordAction(key, action string)
}

// Mitigator drains the threat priority queue and applies policy thresholds
// to decide rate-limit / challenge / block per source. It owns the
// blocklist and the escalation counters; the detection core stays pure.
type Mitigator struct {
	mu    sync.Mutex
	cfg   *config.Config
	queue *threatq.Queue
	sink  StateSink
	alog  *attacklog.Logger
	nowFn func() time.Time

	blocks     map[string]*Block
	limitHits  map[string]int // escalation: repeated rate limits become challenges
	actions    []ActionRecord
	totalActed uint64
}

// New creates a mitigator draining the given queue. The sink may be nil
// when no feedback into detection state is wanted.
func New(cfg *config.Config, queue *threatq.Queue, sink StateSink, alog *attacklog.Logger) *Mitigator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if alog == nil {
		alog = attacklog.New(attacklog.Config{})
	}
	return &Mitigator{
		cfg:       cfg,
		queue:     queue,
		sink:      sink,
		alog:      alog,
		nowFn:     time.Now,
		blocks:    make(map[string]*Block),
		limitHits: make(map[string]int),
	}
}

// Run drains the queue on the configured cadence and cleans up expired
// blocks until the context is cancelled.
func (m *Mitigator) Run(ctx context.Context) {
	m.mu.Lock()
	drainEvery := time.Duration(m.cfg.MitigateIntervalSec) * time.Second
	cleanEvery := time.Duration(m.cfg.CleanupIntervalSec) * time.Second
	m.mu.Unlock()

	drain := time.NewTicker(drainEvery)
	defer drain.Stop()
	clean := time.NewTicker(cleanEvery)
	defer clean.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-drain.C:
			m.Drain()
		case <-clean.C:
			m.Cleanup()
		}
	}
}

// Drain pops every queued entry and applies a decision to each. Returns
// the number of entries that resulted in a fresh mitigation action.
func (m *Mitigator) Drain() int {
	fresh := 0
	for {
		entry, ok := m.queue.PopMax()
		if !ok {
			return fresh
		}
		if action, outcome := m.Apply(entry); outcome == Fresh && action != ActionNone {
			fresh++
		}
	}
}

// Apply decides and applies the mitigation for one threat entry. An entry
// for a source that is already blocked is AlreadyHandled: the existing
// block simply stands, which also makes duplicate queue entries harmless.
func (m *Mitigator) Apply(entry threatq.Entry) (Action, Outcome) {
	now := m.nowFn()

	m.mu.Lock()
	cfg := m.cfg
	if b, ok := m.blocks[entry.Source]; ok && m.blockActive(b, now) {
		m.mu.Unlock()
		metrics.StaleEntries.Inc()
		return ActionBlock, AlreadyHandled
	}

	action := ActionNone
	switch {
	case entry.Score >= cfg.BlockThreshold:
		action = m.block(entry, severitySevere, now)
	case entry.Score >= cfg.ChallengeThreshold:
		action = m.challenge(entry, now)
	case entry.Score >= cfg.RateLimitThreshold:
		action = m.rateLimit(entry, now)
	}

	if action != ActionNone {
		m.totalActed++
		m.actions = append(m.actions, ActionRecord{
			Timestamp: now,
			Source:    entry.Source,
			Action:    action,
			Score:     entry.Score,
		})
		if len(m.actions) > maxActionHistory {
			m.actions = m.actions[len(m.actions)-maxActionHistory:]
		}
	}
	m.mu.Unlock()

	metrics.MitigationActions.WithLabelValues(string(action)).Inc()
	if action != ActionNone {
		m.alog.Log(attacklog.Event{
			EventType: "mitigation",
			Source:    entry.Source,
			Score:     entry.Score,
			Action:    string(action),
			Message:   "mitigation action applied",
			Tags:      []string{"mitigation", string(action)},
		})
		if m.sink != nil {
			m.sink.RecordAction(entry.Source, string(action))
		}
	}
	return action, Fresh
}

// rateLimit applies rate limiting; a source that keeps hitting the limiter
// escalates to a challenge. Caller holds the lock.
func (m *Mitigator) rateLimit(entry threatq.Entry, now time.Time) Action {
	m.limitHits[entry.Source]++
	if m.limitHits[entry.Source] > 5 {
		return m.challenge(entry, now)
	}
	return ActionRateLimit
}

// challenge issues a verification challenge; a high score escalates to a
// medium block, a long rate-limit history to a light one. Caller holds
// the lock.
func (m *Mitigator) challenge(entry threatq.Entry, now time.Time) Action {
	if entry.Score > 0.7 {
		return m.block(entry, severityMedium, now)
	}
	if m.limitHits[entry.Source] > 10 {
		return m.block(entry, severityLight, now)
	}
	return ActionChallenge
}

// block records a block with a severity-dependent duration: light 10m,
// medium 1h, severe permanent (zero ExpiresAt). Caller holds the lock.
func (m *Mitigator) block(entry threatq.Entry, severity string, now time.Time) Action {
	var expires time.Time
	switch severity {
	case severityLight:
		expires = now.Add(time.Duration(m.cfg.LightBlockMinutes) * time.Minute)
	case severityMedium:
		expires = now.Add(time.Duration(m.cfg.MediumBlockMinutes) * time.Minute)
	}

	m.blocks[entry.Source] = &Block{
		Source:    entry.Source,
		Severity:  severity,
		Score:     entry.Score,
		BlockedAt: now,
		ExpiresAt: expires,
		Reason:    "threat score " + attacklog.SeverityForScore(entry.Score),
	}
	metrics.BlockedSources.Set(float64(len(m.blocks)))
	return ActionBlock
}

func (m *Mitigator) blockActive(b *Block, now time.Time) bool {
	return b.ExpiresAt.IsZero() || b.ExpiresAt.After(now)
}

// IsBlocked reports whether a source currently has an active block.
func (m *Mitigator) IsBlocked(source string) bool {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[source]
	return ok && m.blockActive(b, now)
}

// Unblock lifts a block and clears escalation state for a source.
func (m *Mitigator) Unblock(source string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocks[source]
	delete(m.blocks, source)
	delete(m.limitHits, source)
	metrics.BlockedSources.Set(float64(len(m.blocks)))
	return ok
}

// Cleanup removes expired blocks. Runs on a timer; cheap enough to call
// from tests directly.
func (m *Mitigator) Cleanup() int {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for source, b := range m.blocks {
		if !m.blockActive(b, now) {
			delete(m.blocks, source)
			delete(m.limitHits, source)
			removed++
		}
	}
	metrics.BlockedSources.Set(float64(len(m.blocks)))
	return removed
}

// BlockedSources returns all active blocks, most recent first.
func (m *Mitigator) BlockedSources() []Block {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Block, 0, len(m.blocks))
	for _, b := range m.blocks {
		if m.blockActive(b, now) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedAt.After(out[j].BlockedAt) })
	return out
}

// RecentActions returns up to n most recent actions, newest first.
func (m *Mitigator) RecentActions(n int) []ActionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > len(m.actions) {
		n = len(m.actions)
	}
	out := make([]ActionRecord, n)
	for i := 0; i < n; i++ {
		out[i] = m.actions[len(m.actions)-1-i]
	}
	return out
}

// Status summarizes mitigation state for the dashboard.
type Status struct {
	ActiveBlocks    int    `json:"active_blocks"`
	RateLimited     int    `json:"rate_limited_sources"`
	TotalMitigated  uint64 `json:"total_mitigations"`
	RecentActionLen int    `json:"recent_actions"`
}

// GetStatus returns current mitigation counters.
func (m *Mitigator) GetStatus() Status {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, b := range m.blocks {
		if m.blockActive(b, now) {
			active++
		}
	}
	return Status{
		ActiveBlocks:    active,
		RateLimited:     len(m.limitHits),
		TotalMitigated:  m.totalActed,
		RecentActionLen: len(m.actions),
	}
}

// ApplyConfig swaps in updated thresholds. Safe to call live.
func (m *Mitigator) ApplyConfig(cfg *config.Config) {
	if cfg == nil || cfg.Validate() != nil {
		return
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}
