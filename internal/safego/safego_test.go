package safego

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func waitOrFail(t *testing.T, wg *sync.WaitGroup, msg string) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error(msg)
	}
}

func TestGo_RunsFunction(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	Go("test-job", func() {
		defer wg.Done()
	})

	waitOrFail(t, &wg, "goroutine did not complete within timeout")
}

func TestGo_RecoversPanicAndLogsName(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	before := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&lockedWriter{mu: &mu, w: &buf}, nil)))
	defer slog.SetDefault(before)

	var wg sync.WaitGroup
	wg.Add(1)

	// This should not crash the test process; the panic must be recovered.
	Go("usage-rollover", func() {
		defer wg.Done()
		panic("intentional panic in test")
	})

	waitOrFail(t, &wg, "goroutine did not complete within timeout after panic")

	// The deferred Done runs before the recover logs; poll briefly for the record.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		out := buf.String()
		mu.Unlock()
		if strings.Contains(out, "goroutine=usage-rollover") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("recovered panic was not logged with the goroutine name")
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
