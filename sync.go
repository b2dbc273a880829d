package main

import (
	"context"
	"log"
	"sync"
	"time"
)

// FetchFunc pulls one snapshot from the remote store. bypassCache is set on
// manual refreshes so the upstream returns fresh data.
type FetchFunc func(ctx context.Context, bypassCache bool) (*Snapshot, error)

// SyncOptions configures the polling engine.
type SyncOptions struct {
	Interval     time.Duration
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// OnSuccess receives validated snapshots that ShouldUpdate accepted.
	// isManual marks fetches triggered by Refresh.
	OnSuccess func(snap *Snapshot, isManual bool)
	// OnError is called once per exhausted automatic retry sequence, and
	// immediately for any failed manual refresh.
	OnError func(err error, isManual bool)
	// ShouldUpdate filters snapshots that do not materially differ from
	// current state; nil means always update.
	ShouldUpdate func(snap *Snapshot) bool
}

// SyncEngine keeps a client's view of the remote store fresh: periodic
// fetches while visible, exponential backoff across consecutive failures,
// manual refresh, and a liveness flag that keeps late callbacks of stopped
// engines from mutating anything. The engine is the sole writer to its
// SyncState.
type SyncEngine struct {
	fetch FetchFunc
	opts  SyncOptions

	mu         sync.Mutex
	state      SyncState
	visible    bool
	alive      bool
	ticker     *time.Ticker
	tickerStop chan struct{}
	retryTimer *time.Timer
}

// StartSync builds an engine, performs the initial fetch, and begins the
// periodic schedule. Stop the returned engine to tear everything down.
func StartSync(fetch FetchFunc, opts SyncOptions) *SyncEngine {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}

	e := &SyncEngine{
		fetch:   fetch,
		opts:    opts,
		visible: true,
		alive:   true,
		state:   SyncState{Status: SyncActive},
	}

	e.mu.Lock()
	e.startTickerLocked()
	e.mu.Unlock()

	go e.executePoll(false)
	return e
}

// State returns a copy of the engine's current state.
func (e *SyncEngine) State() SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Refresh cancels any pending retry, resets the retry budget, and performs
// one immediate fetch that bypasses upstream caching. Failures surface
// immediately; there is no silent-retry grace period for manual refreshes.
func (e *SyncEngine) Refresh() {
	e.mu.Lock()
	if !e.alive {
		e.mu.Unlock()
		return
	}
	e.cancelRetryLocked()
	e.state.RetryCount = 0
	e.mu.Unlock()

	e.executePoll(true)
}

// SetVisible informs the engine of the surface's visibility. Hiding pauses
// the periodic schedule (a pending retry keeps running); showing performs
// one immediate fetch and restarts the schedule from that point.
func (e *SyncEngine) SetVisible(visible bool) {
	e.mu.Lock()
	if !e.alive || e.visible == visible {
		e.mu.Unlock()
		return
	}
	e.visible = visible

	if visible {
		log.Printf("sync visible, resuming polling")
		e.state.Status = SyncActive
		e.startTickerLocked()
		e.mu.Unlock()
		go e.executePoll(false)
		return
	}

	log.Printf("sync hidden, pausing polling")
	e.state.Status = SyncPaused
	e.stopTickerLocked()
	e.mu.Unlock()
}

// Stop tears the engine down: both timers are cleared and the liveness flag
// drops, so an in-flight fetch can no longer mutate state or fire callbacks.
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.alive {
		return
	}
	e.alive = false
	e.stopTickerLocked()
	e.cancelRetryLocked()
}

func (e *SyncEngine) startTickerLocked() {
	e.stopTickerLocked()
	ticker := time.NewTicker(e.opts.Interval)
	stop := make(chan struct{})
	e.ticker = ticker
	e.tickerStop = stop
	go func() {
		for {
			select {
			case <-ticker.C:
				e.executePoll(false)
			case <-stop:
				return
			}
		}
	}()
}

func (e *SyncEngine) stopTickerLocked() {
	if e.ticker != nil {
		e.ticker.Stop()
		close(e.tickerStop)
		e.ticker = nil
		e.tickerStop = nil
	}
}

func (e *SyncEngine) cancelRetryLocked() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

// executePoll performs one fetch attempt and applies the outcome. Called
// from the initial start, ticker fires, retry timers, visibility restore,
// and Refresh.
func (e *SyncEngine) executePoll(isManual bool) {
	e.mu.Lock()
	if !e.alive || (!e.visible && !isManual) {
		e.mu.Unlock()
		return
	}
	timeout := e.opts.Timeout
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	snap, err := e.fetch(ctx, isManual)
	if err != nil {
		e.handleFailure(ClassifySyncError(err), isManual)
		return
	}
	e.handleSuccess(snap, isManual)
}

func (e *SyncEngine) handleSuccess(snap *Snapshot, isManual bool) {
	e.mu.Lock()
	if !e.alive {
		e.mu.Unlock()
		return
	}

	if e.opts.ShouldUpdate != nil && !e.opts.ShouldUpdate(snap) {
		// Fresh but materially identical data still counts as a healthy
		// poll: the failure streak resets.
		e.state.RetryCount = 0
		e.mu.Unlock()
		return
	}

	e.cancelRetryLocked()
	e.state.LastUpdated = time.Now()
	if e.visible {
		e.state.Status = SyncActive
	}
	e.state.RetryCount = 0
	e.state.LastError = ""
	onSuccess := e.opts.OnSuccess
	e.mu.Unlock()

	if onSuccess != nil {
		onSuccess(snap, isManual)
	}
}

func (e *SyncEngine) handleFailure(err *SyncFetchError, isManual bool) {
	e.mu.Lock()
	if !e.alive {
		e.mu.Unlock()
		return
	}

	if isManual {
		e.state.Status = SyncError
		e.state.LastError = err.Error()
		onError := e.opts.OnError
		e.mu.Unlock()
		log.Printf("sync manual refresh failed: %v", err)
		if onError != nil {
			onError(err, true)
		}
		return
	}

	// Automatic failures get a silent backoff sequence before anything is
	// surfaced. The attempt that exhausts the budget reports exactly once.
	backoff := e.opts.RetryBackoff << e.state.RetryCount
	e.state.RetryCount++
	if e.state.RetryCount >= e.opts.MaxRetries {
		e.state.Status = SyncError
		e.state.LastError = err.Error()
		onError := e.opts.OnError
		e.mu.Unlock()
		log.Printf("sync failed after %d attempts: %v", e.opts.MaxRetries, err)
		if onError != nil {
			onError(err, false)
		}
		return
	}

	log.Printf("sync retry %d/%d in %s: %v", e.state.RetryCount, e.opts.MaxRetries, backoff, err)
	e.cancelRetryLocked()
	e.retryTimer = time.AfterFunc(backoff, func() {
		e.mu.Lock()
		e.retryTimer = nil
		e.mu.Unlock()
		e.executePoll(false)
	})
	e.mu.Unlock()
}
