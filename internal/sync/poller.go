package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/taskcache/internal/source"
)

// DefaultPollInterval is used when the poller is given no interval.
const DefaultPollInterval = 10 * time.Minute

// PollResult is sent on the results channel after each poll.
type PollResult struct {
	Result *Result
	Error  error

	// AuthExpired is set when the source rejected the credentials.
	AuthExpired bool
	Message     string
}

// PollStatus holds the poller's view of the last poll.
type PollStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// Poller runs a sync periodically and on demand.
type Poller struct {
	orch     *Orchestrator
	interval time.Duration
	logger   *slog.Logger

	resultCh  chan PollResult
	triggerCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}

	mu       gosync.Mutex
	running  bool
	lastSync time.Time
	lastErr  error
}

// NewPoller creates a poller that syncs orch every interval.
func NewPoller(orch *Orchestrator, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		orch:      orch,
		interval:  interval,
		logger:    logger.With("component", "poller"),
		resultCh:  make(chan PollResult, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the polling goroutine. The first sync runs immediately.
// Polling ends when ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop halts polling and waits for an in-progress sync to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	<-p.done
}

// Trigger requests an immediate sync. Requests made while one is already
// queued are coalesced.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Results returns the channel poll results are delivered on.
func (p *Poller) Results() <-chan PollResult {
	return p.resultCh
}

// Status returns the outcome of the most recent poll.
func (p *Poller) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PollStatus{
		State:    p.orch.State(),
		LastSync: p.lastSync,
		Error:    p.lastErr,
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll(ctx)
		case <-p.triggerCh:
			p.poll(ctx)
		}
	}
}

// poll runs one sync and publishes its outcome.
func (p *Poller) poll(ctx context.Context) {
	result, err := p.orch.Sync(ctx)

	if errors.Is(err, ErrSyncInProgress) {
		p.logger.Debug("skipping poll, sync already running")
		return
	}

	p.mu.Lock()
	p.lastErr = err
	if err == nil {
		p.lastSync = time.Now()
	}
	p.mu.Unlock()

	msg := PollResult{Result: result, Error: err}
	if source.IsAuthError(err) {
		msg.AuthExpired = true
		msg.Message = fmt.Sprintf(
			"%s: authentication expired, update the token and retry",
			p.orch.fetcher.Type(),
		)
	}
	p.sendResult(msg)
}

// sendResult sends a PollResult without blocking.
func (p *Poller) sendResult(msg PollResult) {
	select {
	case p.resultCh <- msg:
	default:
		p.logger.Warn("dropping poll result, channel full")
	}
}
