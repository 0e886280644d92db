package simulate

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// Profile names the traffic shape a generator produces.
type Profile string

const (
	// Baseline is legitimate-looking traffic: many sources, modest rate.
	Baseline Profile = "baseline"
	// Flooding concentrates a high request rate on a handful of sources.
	Flooding Profile = "flooding"
	// Pulsing alternates bursts and quiet periods to dodge naive averages.
	Pulsing Profile = "pulsing"
	// Distributed spreads a flood across many attacker sources.
	Distributed Profile = "distributed"
)

// Event is one synthetic observed request.
type Event struct {
	Source string
	At     time.Time
}

// Generator produces labeled synthetic event streams for demos and tests.
// Seeded, so a given configuration replays identically.
type Generator struct {
	rng       *rand.Rand
	legit     []string
	attackers []string
	legitRPS  float64
	attackRPS float64
}

// NewGenerator creates a generator with the given seed and intensity on a
// 1-10 scale; higher intensity means a hotter, more concentrated attack.
func NewGenerator(seed int64, intensity int) *Generator {
	if intensity < 1 {
		intensity = 1
	}
	if intensity > 10 {
		intensity = 10
	}
	rng := rand.New(rand.NewSource(seed))

	legit := make([]string, 40)
	for i := range legit {
		legit[i] = fmt.Sprintf("192.168.%d.%d", rng.Intn(6), 1+rng.Intn(254))
	}
	attackers := make([]string, 5)
	for i := range attackers {
		attackers[i] = fmt.Sprintf("10.0.%d.%d", rng.Intn(6), 1+rng.Intn(254))
	}

	return &Generator{
		rng:       rng,
		legit:     legit,
		attackers: attackers,
		legitRPS:  10,
		attackRPS: float64(intensity) * 40,
	}
}

// Attackers returns the attacker source keys, so tests can assert which
// sources should end up mitigated.
func (g *Generator) Attackers() []string {
	out := make([]string, len(g.attackers))
	copy(out, g.attackers)
	return out
}

// Stream produces the events for one window of the given profile and
// duration, starting at start. Timestamps are spread over the duration
// with jitter; events are returned in time order.
func (g *Generator) Stream(profile Profile, start time.Time, d time.Duration) []Event {
	switch profile {
	case Flooding:
		evs := g.emit(g.legit, g.legitRPS, start, d)
		return mergeByTime(evs, g.emit(g.attackers[:2], g.attackRPS, start, d))
	case Pulsing:
		// Bursts for the first third of each second of the run.
		var out []Event
		step := time.Second
		for off := time.Duration(0); off < d; off += step {
			burst := step / 3
			out = mergeByTime(out, g.emit(g.attackers[:2], g.attackRPS*3, start.Add(off), burst))
		}
		return mergeByTime(out, g.emit(g.legit, g.legitRPS, start, d))
	case Distributed:
		many := make([]string, 60)
		for i := range many {
			many[i] = fmt.Sprintf("10.%d.%d.%d", g.rng.Intn(256), g.rng.Intn(256), 1+g.rng.Intn(254))
		}
		evs := g.emit(g.legit, g.legitRPS, start, d)
		return mergeByTime(evs, g.emit(many, g.attackRPS, start, d))
	default:
		return g.emit(g.legit, g.legitRPS, start, d)
	}
}

// emit spreads rps*seconds events uniformly over [start, start+d) across
// the given source pool.
func (g *Generator) emit(sources []string, rps float64, start time.Time, d time.Duration) []Event {
	n := int(rps * d.Seconds())
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Event{
			Source: sources[g.rng.Intn(len(sources))],
			At:     start.Add(time.Duration(g.rng.Int63n(int64(d)))),
		})
	}
	return out
}

// mergeByTime combines two event slices and re-sorts by timestamp.
func mergeByTime(a, b []Event) []Event {
	out := append(a, b...)
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
