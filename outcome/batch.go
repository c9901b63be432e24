package outcome

import (
	"encoding/json"
	"strings"
	"time"

	"wwcpsync/domain"
)

// EmptyFlatten is the description of the batch produced by flattening nothing.
const EmptyFlatten = "no results to flatten"

// Batch is the aggregated outcome of an operation over many subjects.
type Batch[T any] struct {
	kind        Kind
	results     []Result[T]
	description string
	warnings    []string
	runtime     time.Duration
	trackingID  domain.EventTrackingID
}

// Flatten aggregates single-subject results. The batch takes the kind shared
// by every result, or Partial when kinds differ. Flattening no results
// yields an Error batch.
func Flatten[T any](results ...Result[T]) Batch[T] {
	if len(results) == 0 {
		return Batch[T]{kind: KindError, description: EmptyFlatten}
	}
	b := Batch[T]{
		kind:    aggregate(results),
		results: append([]Result[T](nil), results...),
	}
	var descs []string
	for _, r := range results {
		if r.description != "" {
			descs = append(descs, r.description)
		}
		b.warnings = union(b.warnings, r.warnings)
		if r.runtime > b.runtime {
			b.runtime = r.runtime
		}
		if b.trackingID == "" {
			b.trackingID = r.trackingID
		}
	}
	b.description = strings.Join(descs, "\n")
	return b
}

// Merge combines batches of the same operation, for example one per
// partner. Batches without results are ignored, so merging the flattened
// parts of any partition of a result list yields the kind of flattening the
// whole list.
func Merge[T any](batches ...Batch[T]) Batch[T] {
	var all []Result[T]
	var warnings []string
	var runtime time.Duration
	var tid domain.EventTrackingID
	for _, b := range batches {
		if len(b.results) == 0 {
			continue
		}
		all = append(all, b.results...)
		warnings = union(warnings, b.warnings)
		if b.runtime > runtime {
			runtime = b.runtime
		}
		if tid == "" {
			tid = b.trackingID
		}
	}
	m := Flatten(all...)
	if len(all) == 0 {
		return m
	}
	m.warnings = union(m.warnings, warnings)
	if runtime > m.runtime {
		m.runtime = runtime
	}
	if tid != "" {
		m.trackingID = tid
	}
	return m
}

func aggregate[T any](results []Result[T]) Kind {
	k := results[0].kind
	for _, r := range results[1:] {
		if r.kind != k {
			return KindPartial
		}
	}
	return k
}

func union(dst, src []string) []string {
	for _, s := range src {
		dup := false
		for _, d := range dst {
			if d == s {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, s)
		}
	}
	return dst
}

func (b Batch[T]) Kind() Kind                         { return b.kind }
func (b Batch[T]) Description() string                { return b.description }
func (b Batch[T]) Runtime() time.Duration             { return b.runtime }
func (b Batch[T]) TrackingID() domain.EventTrackingID { return b.trackingID }
func (b Batch[T]) Len() int                           { return len(b.results) }

func (b Batch[T]) Warnings() []string {
	return append([]string(nil), b.warnings...)
}

// Results returns every contained result in submission order.
func (b Batch[T]) Results() []Result[T] {
	return append([]Result[T](nil), b.results...)
}

// Successful returns the results with a benign kind.
func (b Batch[T]) Successful() []Result[T] {
	var out []Result[T]
	for _, r := range b.results {
		if r.kind.Benign() {
			out = append(out, r)
		}
	}
	return out
}

// Rejected returns the results that were not accepted.
func (b Batch[T]) Rejected() []Result[T] {
	var out []Result[T]
	for _, r := range b.results {
		if !r.kind.Benign() {
			out = append(out, r)
		}
	}
	return out
}

// Counts tallies the contained results by kind.
func (b Batch[T]) Counts() map[Kind]int {
	counts := make(map[Kind]int)
	for _, r := range b.results {
		counts[r.kind]++
	}
	return counts
}

func (b Batch[T]) WithWarnings(ws ...string) Batch[T] {
	b.warnings = union(append([]string(nil), b.warnings...), ws)
	return b
}

func (b Batch[T]) WithRuntime(d time.Duration) Batch[T] {
	b.runtime = d
	return b
}

func (b Batch[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind        Kind                   `json:"kind"`
		Successful  []Result[T]            `json:"successful"`
		Rejected    []Result[T]            `json:"rejected"`
		Description string                 `json:"description,omitempty"`
		Warnings    []string               `json:"warnings,omitempty"`
		RuntimeMS   int64                  `json:"runtime_ms,omitempty"`
		TrackingID  domain.EventTrackingID `json:"tracking_id,omitempty"`
	}{
		Kind:        b.kind,
		Successful:  nonNil(b.Successful()),
		Rejected:    nonNil(b.Rejected()),
		Description: b.description,
		Warnings:    b.warnings,
		RuntimeMS:   b.runtime.Milliseconds(),
		TrackingID:  b.trackingID,
	})
}

func nonNil[T any](rs []Result[T]) []Result[T] {
	if rs == nil {
		return []Result[T]{}
	}
	return rs
}
