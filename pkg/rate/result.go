package rate

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Key selects one direction of a [Counters].
type Key int

const (
	// BytesSent selects [Counters.BytesSent].
	BytesSent Key = iota
	// BytesReceived selects [Counters.BytesReceived].
	BytesReceived
)

// String returns "bytesSent" or "bytesReceived".
func (k Key) String() string {
	if k == BytesSent {
		return "bytesSent"
	}
	return "bytesReceived"
}

// Get returns the counter selected by k.
func (c Counters) Get(k Key) int64 {
	if k == BytesSent {
		return c.BytesSent
	}
	return c.BytesReceived
}

// Kbps converts a byte count over elapsed into kilobits per second, i.e.
// 8*bytes/elapsedMs. A non-positive elapsed time yields 0.
func Kbps(bytes int64, elapsed time.Duration) float64 {
	ms := float64(elapsed) / float64(time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return 8 * float64(bytes) / ms
}

// Result is the outcome of one measurement.
type Result struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Measured is the wire-level count, nil when capture was not running.
	Measured *Counters `json:"measured,omitempty"`

	// Kinds holds the final-minus-initial transport counters per kind.
	Kinds map[string]Counters `json:"kinds"`

	Remote Endpoint `json:"remote"`
	Filter string   `json:"filter,omitempty"`
}

// Elapsed returns the measurement duration.
func (r *Result) Elapsed() time.Duration { return r.End.Sub(r.Start) }

// Kbps returns the throughput of kind in direction k. The kind
// [KindMeasured] refers to the wire-level count. Unknown kinds yield 0.
func (r *Result) Kbps(kind string, k Key) float64 {
	c, ok := r.Counters(kind)
	if !ok {
		return 0
	}
	return Kbps(c.Get(k), r.Elapsed())
}

// Counters returns the counters of kind, including [KindMeasured].
func (r *Result) Counters(kind string) (Counters, bool) {
	if kind == KindMeasured {
		if r.Measured == nil {
			return Counters{}, false
		}
		return *r.Measured, true
	}
	c, ok := r.Kinds[kind]
	return c, ok
}

// Factor returns measured / selectedCandidate for direction k: how many wire
// bytes each reported payload byte cost. It is NaN when either side is
// unavailable or the selected candidate moved no bytes.
func (r *Result) Factor(k Key) float64 {
	sel, ok := r.Kinds[KindSelectedCandidate]
	if r.Measured == nil || !ok || sel.Get(k) == 0 {
		return math.NaN()
	}
	return float64(r.Measured.Get(k)) / float64(sel.Get(k))
}

// Channels returns the data-channel kinds in the result, sorted.
func (r *Result) Channels() []string {
	var out []string
	for kind := range r.Kinds {
		if kind != KindSelectedCandidate && kind != KindAudio {
			out = append(out, kind)
		}
	}
	slices.Sort(out)
	return out
}

// Summary renders both directions as
//
//	measured = factor * selected (sum = audio + channel...)
//
// with throughputs in kbps, joined by " => ".
func (r *Result) Summary() string {
	return r.side(BytesSent) + " => " + r.side(BytesReceived)
}

func (r *Result) side(k Key) string {
	pad := func(kind string) string { return fmt.Sprintf("%3.0f", r.Kbps(kind, k)) }

	channels := r.Channels()
	parts := []string{pad(KindAudio)}
	sum := r.Kinds[KindAudio].Get(k)
	for _, ch := range channels {
		parts = append(parts, pad(ch))
		sum += r.Kinds[ch].Get(k)
	}
	return fmt.Sprintf("%s = %.2g * %s (%3.0f = %s)",
		pad(KindMeasured),
		r.Factor(k),
		pad(KindSelectedCandidate),
		Kbps(sum, r.Elapsed()),
		strings.Join(parts, " + "),
	)
}

// Aggregate averages several results key by key. Kinds present in only some
// results are averaged over the results that have them. The averaged result
// spans the mean elapsed time, starting at the earliest start.
func Aggregate(results []*Result) *Result {
	if len(results) == 0 {
		return nil
	}
	out := &Result{
		Label: fmt.Sprintf("%d results", len(results)),
		Kinds: make(map[string]Counters),
	}

	type acc struct {
		sent, received float64
		n              int
	}
	kinds := map[string]*acc{}
	var measured acc
	var elapsed time.Duration
	out.Start = results[0].Start

	for _, r := range results {
		if r.Start.Before(out.Start) {
			out.Start = r.Start
		}
		elapsed += r.Elapsed()
		if r.Measured != nil {
			measured.sent += float64(r.Measured.BytesSent)
			measured.received += float64(r.Measured.BytesReceived)
			measured.n++
		}
		for kind, c := range r.Kinds {
			a := kinds[kind]
			if a == nil {
				a = &acc{}
				kinds[kind] = a
			}
			a.sent += float64(c.BytesSent)
			a.received += float64(c.BytesReceived)
			a.n++
		}
	}

	mean := func(a *acc) Counters {
		return Counters{
			BytesSent:     int64(math.Round(a.sent / float64(a.n))),
			BytesReceived: int64(math.Round(a.received / float64(a.n))),
		}
	}
	if measured.n > 0 {
		m := mean(&measured)
		out.Measured = &m
	}
	for kind, a := range kinds {
		out.Kinds[kind] = mean(a)
	}
	out.End = out.Start.Add(elapsed / time.Duration(len(results)))
	return out
}
