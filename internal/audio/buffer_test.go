package audio

import (
	"bytes"
	"testing"
)

func TestBufferFlushOnFragmentCount(t *testing.T) {
	b := NewBuffer(3, 1<<20)

	for i := 0; i < 2; i++ {
		if d := b.Append([]byte{byte(i)}); d.ShouldFlush {
			t.Fatalf("fragment %d triggered flush early", i+1)
		}
	}
	d := b.Append([]byte{2})
	if !d.ShouldFlush || d.Reason != FlushFragmentCount {
		t.Fatalf("third fragment decision = %+v, want flush on fragment_count", d)
	}
}

func TestBufferFlushOnByteCeiling(t *testing.T) {
	b := NewBuffer(10, 2048)

	if d := b.Append(make([]byte, 1024)); d.ShouldFlush {
		t.Fatalf("first kilobyte triggered flush early")
	}
	d := b.Append(make([]byte, 1024))
	if !d.ShouldFlush || d.Reason != FlushByteCeiling {
		t.Fatalf("ceiling decision = %+v, want flush on byte_ceiling", d)
	}
}

func TestBufferDrainPreservesOrderAndClears(t *testing.T) {
	b := NewBuffer(5, 1<<20)
	b.Append([]byte("one"))
	b.Append([]byte("two"))
	b.Append([]byte("three"))

	got := b.Drain()
	if !bytes.Equal(got, []byte("onetwothree")) {
		t.Fatalf("Drain() = %q, want %q", got, "onetwothree")
	}
	if b.Fragments() != 0 || b.Bytes() != 0 {
		t.Fatalf("buffer not cleared: fragments=%d bytes=%d", b.Fragments(), b.Bytes())
	}
	if b.Drain() != nil {
		t.Fatalf("second Drain() should return nil")
	}
}

func TestBufferAppendCopiesFragment(t *testing.T) {
	b := NewBuffer(5, 1<<20)
	frag := []byte("abc")
	b.Append(frag)
	frag[0] = 'x'

	if got := b.Drain(); !bytes.Equal(got, []byte("abc")) {
		t.Fatalf("Drain() = %q, caller mutation leaked into buffer", got)
	}
}

func TestBufferIgnoresEmptyFragments(t *testing.T) {
	b := NewBuffer(1, 1<<20)
	if d := b.Append(nil); d.ShouldFlush {
		t.Fatalf("empty fragment triggered flush")
	}
	if b.Fragments() != 0 {
		t.Fatalf("empty fragment was stored")
	}
}

func TestBufferPromote(t *testing.T) {
	primary := NewBuffer(10, 1<<20)
	queued := NewBuffer(10, 1<<20)
	primary.Append([]byte("a"))
	queued.Append([]byte("b"))
	queued.Append([]byte("c"))

	primary.Promote(queued)
	if queued.Fragments() != 0 {
		t.Fatalf("queued buffer not emptied after Promote")
	}
	if got := primary.Drain(); !bytes.Equal(got, []byte("abc")) {
		t.Fatalf("promoted order = %q, want %q", got, "abc")
	}
}

func TestBufferOver(t *testing.T) {
	b := NewBuffer(2, 1<<20)
	b.Append([]byte("a"))
	if b.Over() {
		t.Fatalf("Over() true below threshold")
	}
	b.Append([]byte("b"))
	if !b.Over() {
		t.Fatalf("Over() false at threshold")
	}
}
