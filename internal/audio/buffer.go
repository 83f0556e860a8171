package audio

// FlushReason explains which threshold triggered a flush.
type FlushReason string

const (
	FlushNone          FlushReason = ""
	FlushFragmentCount FlushReason = "fragment_count"
	FlushByteCeiling   FlushReason = "byte_ceiling"
)

// FlushDecision is returned by Append and tells the caller whether the
// buffered audio should be sent upstream now.
type FlushDecision struct {
	ShouldFlush bool
	Reason      FlushReason
}

// Buffer accumulates opaque audio fragments for one session in arrival order
// until a flush threshold is met. A flush fires when the fragment count
// reaches maxFragments or the accumulated size crosses maxBytes, whichever
// comes first: the first bounds latency, the second bounds request size.
//
// Buffer has no internal locking. All access for a given session happens on
// that session's orchestrator loop, which guarantees single-writer semantics.
type Buffer struct {
	fragments    [][]byte
	totalBytes   int
	maxFragments int
	maxBytes     int
}

// NewBuffer creates a buffer with the given flush thresholds. Non-positive
// values fall back to defaults (3 fragments, 256 KiB).
func NewBuffer(maxFragments, maxBytes int) *Buffer {
	if maxFragments <= 0 {
		maxFragments = 3
	}
	if maxBytes <= 0 {
		maxBytes = 256 << 10
	}
	return &Buffer{
		fragments:    make([][]byte, 0, maxFragments),
		maxFragments: maxFragments,
		maxBytes:     maxBytes,
	}
}

// Append adds one fragment and reports whether the buffer should be flushed.
// Empty fragments are ignored and never trigger a flush.
func (b *Buffer) Append(fragment []byte) FlushDecision {
	if len(fragment) == 0 {
		return FlushDecision{}
	}
	copied := make([]byte, len(fragment))
	copy(copied, fragment)
	b.fragments = append(b.fragments, copied)
	b.totalBytes += len(copied)

	if b.totalBytes >= b.maxBytes {
		return FlushDecision{ShouldFlush: true, Reason: FlushByteCeiling}
	}
	if len(b.fragments) >= b.maxFragments {
		return FlushDecision{ShouldFlush: true, Reason: FlushFragmentCount}
	}
	return FlushDecision{}
}

// Drain returns all buffered audio concatenated in arrival order and clears
// the buffer in the same step.
func (b *Buffer) Drain() []byte {
	if len(b.fragments) == 0 {
		return nil
	}
	out := make([]byte, 0, b.totalBytes)
	for _, f := range b.fragments {
		out = append(out, f...)
	}
	b.fragments = b.fragments[:0]
	b.totalBytes = 0
	return out
}

// Promote moves every fragment from other into b, preserving order. Fragments
// queued while a turn was in flight are promoted once the session returns to
// idle so no speech is lost.
func (b *Buffer) Promote(other *Buffer) {
	for _, f := range other.fragments {
		b.fragments = append(b.fragments, f)
		b.totalBytes += len(f)
	}
	other.fragments = other.fragments[:0]
	other.totalBytes = 0
}

// Over reports whether the buffer already satisfies a flush threshold.
func (b *Buffer) Over() bool {
	return len(b.fragments) >= b.maxFragments || b.totalBytes >= b.maxBytes
}

// Fragments returns the number of buffered fragments.
func (b *Buffer) Fragments() int { return len(b.fragments) }

// Bytes returns the total buffered size in bytes.
func (b *Buffer) Bytes() int { return b.totalBytes }
