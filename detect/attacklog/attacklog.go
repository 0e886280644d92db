package attacklog

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Event is one attack-log line. Detection events come from the evaluation
// tick, action events from the mitigation consumer.
type Event struct {
	Timestamp string  `json:"timestamp"`
	EventType string  `json:"event_type"`
	Source    string  `json:"source,omitempty"`
	Severity  string  `json:"severity"`
	Score     float64 `json:"score,omitempty"`
	Rate      float64 `json:"rate,omitempty"`

	// Window context at the time of the event
	Entropy       float64 `json:"entropy,omitempty"`
	AnomalyScore  float64 `json:"anomaly_score,omitempty"`
	UniqueSources int     `json:"unique_sources,omitempty"`
	TotalEvents   int     `json:"total_events,omitempty"`

	// Mitigation specifics
	Action        string `json:"action,omitempty"`
	BlockDuration string `json:"block_duration,omitempty"`

	Message string   `json:"message,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Config configures the attack event log.
type Config struct {
	Enabled      bool
	Path         string
	MaxSizeMB    int
	MaxBackups   int
	MaxAgeDays   int
	Compress     bool
	LogToConsole bool
}

// Logger writes attack events as JSON lines to a rotating file. A logging
// failure is never fatal; the core must keep detecting while under attack,
// so write errors degrade to a stderr note.
type Logger struct {
	mu         sync.Mutex
	enc        *json.Encoder
	out        *lumberjack.Logger
	enabled    bool
	console    bool
	eventCount int64
}

// New creates an attack logger. With Enabled false all methods are no-ops.
func New(cfg Config) *Logger {
	if !cfg.Enabled {
		return &Logger{}
	}
	if cfg.Path == "" {
		cfg.Path = "./logs/attacks.log"
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 28
	}

	out := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	return &Logger{
		enc:     json.NewEncoder(out),
		out:     out,
		enabled: true,
		console: cfg.LogToConsole,
	}
}

// Log writes one event, stamping the timestamp if unset.
func (l *Logger) Log(ev Event) {
	if !l.enabled {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if ev.Severity == "" {
		ev.Severity = SeverityForScore(ev.Score)
	}

	l.mu.Lock()
	l.eventCount++
	err := l.enc.Encode(ev)
	l.mu.Unlock()

	if err != nil {
		log.Printf("attacklog: write failed: %v", err)
	}
	if l.console {
		log.Printf("[attack] [%s] %s source=%s score=%.2f %s",
			ev.Severity, ev.EventType, ev.Source, ev.Score, ev.Message)
	}
}

// EventCount returns the number of events logged so far.
func (l *Logger) EventCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventCount
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if !l.enabled {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// SeverityForScore maps a threat score onto the severity ladder used across
// the attack log and the mitigation step.
func SeverityForScore(score float64) string {
	switch {
	case score >= 0.8:
		return "critical"
	case score >= 0.6:
		return "high"
	case score >= 0.4:
		return "medium"
	default:
		return "low"
	}
}
