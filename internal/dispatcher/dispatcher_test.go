package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	called := false
	d.Register(":CLOCK:", func(e Event) (any, error) {
		called = true
		return "result", nil
	})

	result, err := d.Dispatch(Event{Command: ":CLOCK:", Args: []string{"125000"}})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
	if result != "result" {
		t.Errorf("expected 'result', got %v", result)
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Command: ":AGENT:TELEPORT:"})

	if err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register(":UPDATE:", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	// Dispatch 3 events
	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Command: ":UPDATE:"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != "queued" {
			t.Errorf("expected 'queued', got %v", result)
		}
	}

	// Wait for processing
	wg.Wait()

	if processed.Load() != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	// Block the handler so queue fills up
	block := make(chan struct{})
	d.Register(":AGENT:TICK:", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(2))

	// Fill the queue (2 items) + 1 being processed
	d.Dispatch(Event{Command: ":AGENT:TICK:"}) // being processed
	d.Dispatch(Event{Command: ":AGENT:TICK:"}) // queued
	d.Dispatch(Event{Command: ":AGENT:TICK:"}) // queued

	// This should be dropped
	_, err := d.Dispatch(Event{Command: ":AGENT:TICK:"})

	if err == nil {
		t.Error("expected error when queue is full")
	}

	close(block)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	d.Register(":STATE:", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(1), Blocking())

	// First event starts processing
	d.Dispatch(Event{Command: ":STATE:"})
	// Second event fills the queue
	d.Dispatch(Event{Command: ":STATE:"})

	// Third event should block (test with timeout)
	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Command: ":STATE:"})
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
		// Expected - dispatch is blocking
	}

	close(block)
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":HUMAN:DEATH:", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	d.Dispatch(Event{Command: ":HUMAN:DEATH:", Args: []string{"7"}})

	// Give time for logging
	time.Sleep(10 * time.Millisecond)

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected at least 2 log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":AGENT:DEATH:", func(e Event) (any, error) {
		return nil, fmt.Errorf("test error")
	}, Logged())

	d.Dispatch(Event{Command: ":AGENT:DEATH:"})

	logger.mu.Lock()
	defer logger.mu.Unlock()

	hasError := false
	for _, msg := range logger.messages {
		if len(msg) >= 5 && msg[:5] == "ERROR" {
			hasError = true
			break
		}
	}

	if !hasError {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":SESSION:START:", func(e Event) (any, error) { return nil, nil })

	if !d.HasHandler(":SESSION:START:") {
		t.Error("expected handler to exist")
	}

	if d.HasHandler(":SESSION:PAUSE:") {
		t.Error("expected handler to not exist")
	}
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	d.Register(":HUMAN:KILL:", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return "done", nil
	}, Buffered(100), Logged())

	result, err := d.Dispatch(Event{Command: ":HUMAN:KILL:"})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "queued" {
		t.Errorf("expected 'queued', got %v", result)
	}

	wg.Wait()

	if processed.Load() != 1 {
		t.Errorf("expected 1 processed, got %d", processed.Load())
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_DrainWaitsForBufferedEvents(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var handled atomic.Int32
	d.Register(":UPDATE:", func(e Event) (any, error) {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil, nil
	}, Buffered(10), Blocking())

	for i := 0; i < 5; i++ {
		if _, err := d.Dispatch(Event{Command: ":UPDATE:", Args: []string{"1"}}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	d.Drain()

	if handled.Load() != 5 {
		t.Errorf("expected 5 handled after drain, got %d", handled.Load())
	}
}

func TestDispatcher_BufferedHandlerErrorsAreLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":UPDATE:", func(e Event) (any, error) {
		return nil, fmt.Errorf("write failed")
	}, Buffered(4), Logged())

	if _, err := d.Dispatch(Event{Command: ":UPDATE:"}); err != nil {
		t.Fatalf("queued dispatch should not fail: %v", err)
	}
	d.Drain()

	logger.mu.Lock()
	defer logger.mu.Unlock()

	hasError := false
	for _, msg := range logger.messages {
		if strings.HasPrefix(msg, "ERROR: event failed") {
			hasError = true
		}
	}
	if !hasError {
		t.Error("expected buffered handler error to be logged")
	}
}

func TestDispatcher_CloseRejectsNewEvents(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var handled atomic.Int32
	d.Register(":UPDATE:", func(e Event) (any, error) {
		handled.Add(1)
		return nil, nil
	}, Buffered(10))

	d.Dispatch(Event{Command: ":UPDATE:"})
	d.Dispatch(Event{Command: ":UPDATE:"})

	d.Close()
	// second close is a no-op
	d.Close()

	if handled.Load() != 2 {
		t.Errorf("expected queued events to be handled before close returns, got %d", handled.Load())
	}

	_, err := d.Dispatch(Event{Command: ":UPDATE:"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDispatcher_DispatchStampsTimestamp(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got time.Time
	d.Register(":CLOCK:", func(e Event) (any, error) {
		got = e.Timestamp
		return nil, nil
	})

	d.Dispatch(Event{Command: ":CLOCK:"})

	if got.IsZero() {
		t.Error("expected dispatch to stamp a timestamp")
	}
}

func TestDispatcher_DrainWhileDispatching(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var handled atomic.Int32
	d.Register(":UPDATE:", func(e Event) (any, error) {
		handled.Add(1)
		return nil, nil
	}, Buffered(4), Blocking())

	const events = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < events; i++ {
			if _, err := d.Dispatch(Event{Command: ":UPDATE:", Args: []string{"1"}}); err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
		}
	}()

	// drains racing the producer must neither panic nor deadlock
	for i := 0; i < 20; i++ {
		d.Drain()
	}
	<-done
	d.Drain()

	if handled.Load() != events {
		t.Errorf("expected %d handled, got %d", events, handled.Load())
	}
	if p := d.Pending(); p != 0 {
		t.Errorf("expected nothing pending, got %d", p)
	}
}
