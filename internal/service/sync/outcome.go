package sync

// Status tags a loader result.
type Status int

const (
	// StatusOK means the loader fetched everything it was asked for.
	StatusOK Status = iota
	// StatusDegraded means best-effort parts were defaulted after failing;
	// the data is usable but partial.
	StatusDegraded
	// StatusFailed means a critical fetch failed and the data is unusable.
	StatusFailed
)

// Outcome is the tagged result loaders return so the orchestrator can
// compose success, partial success, and failure without error-driven
// control flow.
type Outcome[T any] struct {
	status  Status
	value   T
	reasons []error
}

// Ok wraps a fully fetched value.
func Ok[T any](value T) Outcome[T] {
	return Outcome[T]{status: StatusOK, value: value}
}

// Degraded wraps a partial value together with the reasons parts of it were
// defaulted.
func Degraded[T any](partial T, reasons ...error) Outcome[T] {
	return Outcome[T]{status: StatusDegraded, value: partial, reasons: reasons}
}

// Failed wraps a critical-fetch failure.
func Failed[T any](reason error) Outcome[T] {
	return Outcome[T]{status: StatusFailed, reasons: []error{reason}}
}

// Status returns the tag.
func (o Outcome[T]) Status() Status { return o.status }

// Failed reports whether the outcome is unusable.
func (o Outcome[T]) Failed() bool { return o.status == StatusFailed }

// Value returns the carried data. Meaningless when Failed.
func (o Outcome[T]) Value() T { return o.value }

// Reason returns the primary failure reason, or nil.
func (o Outcome[T]) Reason() error {
	if len(o.reasons) == 0 {
		return nil
	}
	return o.reasons[0]
}

// Reasons returns every recorded degradation or failure reason.
func (o Outcome[T]) Reasons() []error { return o.reasons }
