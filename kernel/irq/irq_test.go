package irq

import (
	"testing"

	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
)

func TestGuardNesting(t *testing.T) {
	hal.Boot(hal.Config{})
	cpu.EnableInterrupts()

	outer := NewGuard()
	if cpu.InterruptsEnabled() {
		t.Fatal("expected the guard to disable interrupts")
	}

	inner := NewGuard()
	inner.Leave()
	if cpu.InterruptsEnabled() {
		t.Fatal("expected the inner guard to keep interrupts disabled")
	}

	outer.Leave()
	if !cpu.InterruptsEnabled() {
		t.Fatal("expected the outer guard to restore interrupts")
	}
}

func TestGuardKeepsDisabledState(t *testing.T) {
	hal.Boot(hal.Config{})
	guard := NewGuard()
	guard.Leave()
	if cpu.InterruptsEnabled() {
		t.Fatal("expected interrupts to stay disabled")
	}
}

func TestDispatchRunsRegisteredHandler(t *testing.T) {
	hal.Boot(hal.Config{})
	Init()

	var got uint32
	Register(Clock, "Clock", func(vec uint32) {
		got = vec
	})

	if Name(Clock) != "Clock" {
		t.Fatalf("expected the registered name; got %q", Name(Clock))
	}

	cpu.EnableInterrupts()
	hal.Raise(Clock)
	if got != Clock {
		t.Fatalf("expected vector 0x%x to be dispatched; got 0x%x", uint32(Clock), got)
	}
}

func TestSpuriousVectorsAreIgnored(t *testing.T) {
	hal.Boot(hal.Config{})
	Init()

	fired := false
	haltFn = func() { fired = true }
	defer func() {
		haltFn = func() {
			for {
				cpu.Halt()
			}
		}
	}()

	cpu.EnableInterrupts()
	hal.Raise(SpuriousMaster)
	if fired {
		t.Fatal("expected the spurious master vector to be ignored")
	}

	hal.Raise(0x06)
	if !fired {
		t.Fatal("expected an unexpected exception to be fatal")
	}
}
