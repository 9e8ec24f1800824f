package runctl

import (
	"errors"
	"testing"
)

func TestRunAtExitRunsInOrderAndStopsOnError(t *testing.T) {
	atExit.fns = nil
	atomicReset()

	var order []int
	RegisterAtExit(func() error { order = append(order, 1); return nil })
	RegisterAtExit(func() error { order = append(order, 2); return errors.New("boom") })
	RegisterAtExit(func() error { order = append(order, 3); return nil })

	err := RunAtExit()
	if err == nil {
		t.Fatal("expected error from second cleanup func")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("unexpected execution order: %v", order)
	}
}

func TestOnInterruptRunsRegisteredHooks(t *testing.T) {
	interruptMu.Lock()
	onInterrupt = nil
	interruptMu.Unlock()

	ran := false
	OnInterrupt(func() { ran = true })
	runInterruptHooks()
	if !ran {
		t.Error("expected interrupt hook to run")
	}
}

func atomicReset() {
	atExit.closed = 0
}
