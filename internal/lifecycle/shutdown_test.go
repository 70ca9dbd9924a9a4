package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_RunNormal(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	code := m.Run(func(ctx context.Context) error {
		return nil
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestManager_RunError(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	code := m.Run(func(ctx context.Context) error {
		return errors.New("boom")
	})

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestManager_ShutdownHooksRun(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	var mu sync.Mutex
	var order []string
	m.OnShutdown("first", func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "first")
		return nil
	})
	m.OnShutdown("second", func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "second")
		return nil
	})

	code := m.Run(func(ctx context.Context) error {
		return nil
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("hook order = %v, want [first second]", order)
	}
}

func TestManager_ShutdownHookError(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	var secondRan bool
	m.OnShutdown("failing", func(ctx context.Context) error {
		return errors.New("hook failed")
	})
	m.OnShutdown("after", func(ctx context.Context) error {
		secondRan = true
		return nil
	})

	code := m.Run(func(ctx context.Context) error {
		return nil
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !secondRan {
		t.Error("hook after a failing hook did not run")
	}
}

func TestManager_ContextCancellation(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	code := m.Run(func(ctx context.Context) error {
		go func() {
			time.Sleep(20 * time.Millisecond)
			m.cancel()
		}()
		<-ctx.Done()
		return ctx.Err()
	})

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestManager_SignalShutdown(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signal delivery is not testable on windows")
	}

	m := NewManager(ShutdownConfig{GracePeriod: 2 * time.Second, QuickPeriod: time.Second}, testLogger())

	var hookRan bool
	m.OnShutdown("cleanup", func(ctx context.Context) error {
		hookRan = true
		return nil
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		syscall.Kill(os.Getpid(), syscall.SIGINT)
	}()

	code := m.Run(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !hookRan {
		t.Error("shutdown hook did not run after signal")
	}
}

func TestManager_Uptime(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	time.Sleep(10 * time.Millisecond)
	if m.Uptime() < 10*time.Millisecond {
		t.Errorf("uptime = %v, want at least 10ms", m.Uptime())
	}
}

func TestDefaultShutdownConfig(t *testing.T) {
	cfg := DefaultShutdownConfig()
	if cfg.GracePeriod != 10*time.Second {
		t.Errorf("GracePeriod = %v, want 10s", cfg.GracePeriod)
	}
	if cfg.QuickPeriod != 5*time.Second {
		t.Errorf("QuickPeriod = %v, want 5s", cfg.QuickPeriod)
	}
}

func TestManager_ShutdownOnceIdempotent(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())
	m.cancel = func() {}

	var calls int
	m.OnShutdown("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	if code := m.shutdownOnce(time.Second); code != 0 {
		t.Errorf("first shutdown code = %d, want 0", code)
	}
	if code := m.shutdownOnce(time.Second); code != 1 {
		t.Errorf("second shutdown code = %d, want 1", code)
	}
	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}
}
