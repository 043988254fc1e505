package power

import (
	"time"

	"github.com/kjannette/freq-response-backend/internal/models"
)

type bucket struct {
	sum   float64
	count int
}

// Accumulator collects per-interval sums and counts. Keys remember the
// order in which they were first seen.
type Accumulator struct {
	order   []time.Time
	buckets map[time.Time]*bucket
}

func NewAccumulator() *Accumulator {
	return &Accumulator{buckets: make(map[time.Time]*bucket)}
}

func (a *Accumulator) Add(key time.Time, value float64) {
	a.add(key, value, 1)
}

func (a *Accumulator) add(key time.Time, sum float64, count int) {
	b, ok := a.buckets[key]
	if !ok {
		b = &bucket{}
		a.buckets[key] = b
		a.order = append(a.order, key)
	}
	b.sum += sum
	b.count += count
}

// Merge folds other into a. Means are only combined through their sums and
// counts, so aggregating disjoint batches and merging gives the same result
// as aggregating them together.
func (a *Accumulator) Merge(other *Accumulator) {
	if other == nil {
		return
	}
	for _, key := range other.order {
		b := other.buckets[key]
		a.add(key, b.sum, b.count)
	}
}

func (a *Accumulator) Result() *Result {
	res := &Result{
		keys:   make([]time.Time, 0, len(a.order)),
		values: make(map[time.Time]float64, len(a.order)),
		counts: make(map[time.Time]int, len(a.order)),
	}
	for _, key := range a.order {
		b := a.buckets[key]
		if b.count == 0 {
			continue
		}
		res.keys = append(res.keys, key)
		res.values[key] = b.sum / float64(b.count)
		res.counts[key] = b.count
	}
	return res
}

// Result maps half-hour interval starts to average response power.
type Result struct {
	keys   []time.Time
	values map[time.Time]float64
	counts map[time.Time]int
}

func (r *Result) Len() int { return len(r.keys) }

// Keys returns interval starts in discovery order.
func (r *Result) Keys() []time.Time {
	out := make([]time.Time, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r *Result) Get(key time.Time) (float64, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *Result) Samples(key time.Time) int {
	return r.counts[key]
}

func (r *Result) Intervals() []models.IntervalAverage {
	out := make([]models.IntervalAverage, len(r.keys))
	for i, key := range r.keys {
		out[i] = models.IntervalAverage{
			Interval:     key,
			AveragePower: r.values[key],
			Samples:      r.counts[key],
		}
	}
	return out
}

// Accumulate adds readings to acc. On a malformed timestamp it returns a
// *ParseError and acc must be discarded.
func Accumulate(acc *Accumulator, readings []models.Reading) error {
	for _, rd := range readings {
		key, err := IntervalKey(rd.MeasurementTime)
		if err != nil {
			return err
		}
		acc.Add(key, ResponsePower(rd.Frequency))
	}
	return nil
}

// Aggregate computes the mean response power per half-hour interval. It is
// all-or-nothing: any malformed measurement time fails the whole call.
func Aggregate(readings []models.Reading) (*Result, error) {
	acc := NewAccumulator()
	if err := Accumulate(acc, readings); err != nil {
		return nil, err
	}
	return acc.Result(), nil
}
