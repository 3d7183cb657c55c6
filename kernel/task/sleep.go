package task

import "github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"

var (
	ticksFn     func() uint32
	ticksPerSec uint32
)

// SetTimerSource installs the tick counter and frequency the sleep
// implementation converts milliseconds with. The timer driver calls it
// during bring-up.
func SetTimerSource(ticks func() uint32, freqPerSec uint32) {
	ticksFn = ticks
	ticksPerSec = freqPerSec
}

// Sleep yields the processor until at least the given number of
// milliseconds worth of clock ticks have passed.
func (t *Thread) Sleep(milliseconds uint32) {
	if ticksFn == nil {
		kfmt.Panicf("task", "the timer has not been initialized")
	}

	if milliseconds == 0 {
		milliseconds = 1
	}

	msPerTick := 1000 / ticksPerSec
	sleepTicks := (milliseconds + msPerTick - 1) / msPerTick
	start := ticksFn()

	// Keep yielding while the elapsed ticks are not enough.
	for ticksFn()-start < sleepTicks {
		t.Yield()
	}
}
