// Package kfmt provides formatted output for the kernel. Output produced
// before a sink is attached is kept in a ring buffer and replayed once
// SetOutputSink is called.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer stores Printf output before a sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer Printf sends its output to. If nil,
	// output is redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and copies any
// data accumulated in the early buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf writes formatted output to the active sink.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes the formatted output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = &earlyPrintBuffer
	}

	fmt.Fprintf(w, format, args...)
}

// Panicf reports a fatal kernel error: the formatted message is printed
// and the kernel stops via panic.
func Panicf(module, format string, args ...interface{}) {
	Printf("[%s] "+format+"\n", append([]interface{}{module}, args...)...)
	panic(fmt.Sprintf("[%s] %s", module, fmt.Sprintf(format, args...)))
}
