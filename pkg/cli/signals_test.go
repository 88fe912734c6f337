package cli

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestSignalContext(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, stop := SignalContext(parent)
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("context canceled before any signal")
	default:
	}

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("context not canceled with its parent")
	}
}

func TestReloadSignals(t *testing.T) {
	ch, stop := ReloadSignals()
	defer stop()

	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess() error = %v", err)
	}
	if err := p.Signal(syscall.SIGHUP); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}

	select {
	case sig := <-ch:
		if sig != syscall.SIGHUP {
			t.Errorf("received %v, want SIGHUP", sig)
		}
	case <-time.After(2 * time.Second):
		t.Error("SIGHUP not delivered")
	}
}
