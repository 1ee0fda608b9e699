package runner

import (
	"context"
	"strings"
	"sync"
	"time"
)

// FakeRunner implements Runner with canned results for testing.
// Results are keyed by the space-joined argv; unknown commands succeed.
type FakeRunner struct {
	mu       sync.Mutex
	results  map[string]Result
	calls    [][]string
	delay    time.Duration
	inFlight int
	maxSeen  int
}

// NewFakeRunner creates a FakeRunner where every command succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{results: make(map[string]Result)}
}

// SetResult configures the result for argv.
func (f *FakeRunner) SetResult(argv []string, res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[strings.Join(argv, " ")] = res
}

// SetDelay makes every Run take d, or until ctx is done.
func (f *FakeRunner) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Run records the call and returns the configured result.
func (f *FakeRunner) Run(ctx context.Context, dir string, argv []string) Result {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	res, ok := f.results[strings.Join(argv, " ")]
	delay := f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{ExitCode: -1, Err: ctx.Err()}
		}
	}

	if !ok {
		return Result{}
	}
	return res
}

// Calls returns every argv run so far, in call order.
func (f *FakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

// MaxConcurrent returns the highest number of simultaneous Run calls observed.
func (f *FakeRunner) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}
