package process

import (
	"context"
	"testing"

	"github.com/forgeloop/forgeloop/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("", "debug", nil)
}

func TestStartStopLifecycle(t *testing.T) {
	m := NewManager(testLogger())

	if m.IsRunning() {
		t.Fatal("manager should not be running before Start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	if !m.IsRunning() {
		t.Fatal("manager should be running after Start")
	}

	// Second Start is a no-op while running.
	m.Start(ctx)

	cancel()
	m.Stop()
	if m.IsRunning() {
		t.Fatal("manager should not be running after Stop")
	}

	// Stop is idempotent.
	m.Stop()
}

func TestContextCancelDoesNotRunHandlers(t *testing.T) {
	m := NewManager(testLogger())

	called := false
	m.RegisterShutdownHandler(func() { called = true })

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	m.Stop()

	if called {
		t.Fatal("handlers must only run on a signal, not on context cancellation")
	}
}

func TestHandlersRunInReverseOrder(t *testing.T) {
	m := NewManager(testLogger())

	var order []string
	m.RegisterShutdownHandler(func() { order = append(order, "first") })
	m.RegisterShutdownHandler(func() { order = append(order, "second") })

	m.handleShutdown()

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected reverse registration order, got %v", order)
	}
	if m.IsRunning() {
		t.Fatal("shutdown should mark the manager stopped")
	}
}
