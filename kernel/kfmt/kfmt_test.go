package kfmt

import (
	"bytes"
	"strings"
	"testing"
)

func TestRingBufferReadWrite(t *testing.T) {
	var rb ringBuffer
	exp := "the big brown fox jumped over the lazy dog"
	if n, err := rb.Write([]byte(exp)); err != nil || n != len(exp) {
		t.Fatalf("expected to write %d bytes; wrote %d, err %v", len(exp), n, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(&rb); err != nil {
		t.Fatal(err)
	}

	if got := buf.String(); got != exp {
		t.Fatalf("expected to read %q; got %q", exp, got)
	}
}

func TestRingBufferOverflowDropsOldest(t *testing.T) {
	var rb ringBuffer
	for i := 0; i < earlyBufSize; i++ {
		rb.Write([]byte{'x'})
	}

	rb.Write([]byte("tail"))

	var buf bytes.Buffer
	buf.ReadFrom(&rb)
	got := buf.String()
	if len(got) != earlyBufSize {
		t.Fatalf("expected %d buffered bytes; got %d", earlyBufSize, len(got))
	}

	if !strings.HasSuffix(got, "tail") {
		t.Fatalf("expected newest bytes to survive; got tail %q", got[len(got)-8:])
	}
}

func TestSetOutputSinkReplaysEarlyOutput(t *testing.T) {
	defer SetOutputSink(nil)

	SetOutputSink(nil)
	Printf("early %d\n", 123)

	var buf bytes.Buffer
	SetOutputSink(&buf)
	Printf("late\n")

	if got, exp := buf.String(), "early 123\nlate\n"; got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}
}
