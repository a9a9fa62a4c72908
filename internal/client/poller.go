package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"expirysnap/internal/models"
)

// ErrSessionNotFound is the terminal poll outcome: the session must
// exist from the moment the handoff starts, so "not found" never means
// "not yet ready".
var ErrSessionNotFound = errors.New("session not found")

// State is the poller's position in the handoff lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingHandoff
	StateImagesReceived
	StateTimedOut
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHandoff:
		return "awaiting_handoff"
	case StateImagesReceived:
		return "images_received"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HandoffAPI is the server-side handoff surface the poller drives.
type HandoffAPI interface {
	StartSession(ctx context.Context) (sessionID, deepLink string, err error)
	PollSession(ctx context.Context, sessionID string) (imageCount int, err error)
	FetchSessionImages(ctx context.Context, sessionID string) ([]models.SessionImage, error)
}

const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 60
)

type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
	// Navigate opens the deep link on the local platform. Optional.
	Navigate func(deepLink string)
}

// Poller drives one handoff at a time from token issuance through
// termination. All transitions happen under one mutex and are guarded by
// a loop generation counter, so a cancelled loop can never apply a late
// result.
type Poller struct {
	api      HandoffAPI
	gallery  *Gallery
	pipeline *Pipeline
	cfg      PollerConfig

	mu        sync.Mutex
	state     State
	sessionID string
	gen       int
	cancel    context.CancelFunc
}

func NewPoller(api HandoffAPI, gallery *Gallery, pipeline *Pipeline, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Poller{
		api:      api,
		gallery:  gallery,
		pipeline: pipeline,
		cfg:      cfg,
		state:    StateIdle,
	}
}

// Start begins a new handoff, cancelling any loop already running. On
// success the poll loop runs until images arrive, the attempt budget is
// spent, or Cancel is called.
func (p *Poller) Start(ctx context.Context) error {
	p.Cancel()

	sessionID, deepLink, err := p.api.StartSession(ctx)
	if err != nil {
		p.mu.Lock()
		p.state = StateFailed
		p.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.state = StateAwaitingHandoff
	p.sessionID = sessionID
	p.cancel = cancel
	p.mu.Unlock()

	if p.cfg.Navigate != nil {
		p.cfg.Navigate(deepLink)
	}

	go p.loop(loopCtx, gen, sessionID)
	return nil
}

// Cancel stops the active poll loop. Synchronous with respect to state:
// once Cancel returns, no tick result from the old loop can apply.
// Cancelling twice, or with nothing running, is safe.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.state == StateAwaitingHandoff {
		p.state = StateCancelled
		p.sessionID = ""
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SessionID returns the active rendezvous token, empty outside an
// active handoff.
func (p *Poller) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// loop is the single control point for handoff transitions: success,
// timeout, terminal failure, and cancellation each leave through exactly
// one path. The poll request runs inline on the tick, so a slow response
// consumes the interval instead of stacking a second request.
func (p *Poller) loop(ctx context.Context, gen int, sessionID string) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			p.finish(gen, StateCancelled)
			return
		case <-ticker.C:
		}

		attempts++
		if attempts > p.cfg.MaxAttempts {
			p.finish(gen, StateTimedOut)
			return
		}

		count, err := p.api.PollSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				p.finish(gen, StateFailed)
				return
			}
			// Transient; next tick retries.
			log.Printf("poll session %s: %v", sessionID, err)
			continue
		}
		if count == 0 {
			continue
		}

		images, err := p.api.FetchSessionImages(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				p.finish(gen, StateFailed)
				return
			}
			log.Printf("fetch session images %s: %v", sessionID, err)
			continue
		}
		if p.deliver(gen, images) {
			return
		}
		// Cancelled while the fetch was in flight; result discarded.
		return
	}
}

// finish applies a terminal transition unless the loop has been replaced.
func (p *Poller) finish(gen int, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	p.state = state
	p.sessionID = ""
	p.cancel = nil
}

// deliver appends the received batch to the gallery and hands it to the
// pipeline. Runs under the state mutex so it cannot interleave with
// Cancel: either the whole delivery lands before the cancel, or none of
// it does.
func (p *Poller) deliver(gen int, images []models.SessionImage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	p.state = StateImagesReceived
	p.sessionID = ""
	p.cancel = nil

	items := p.gallery.AddSessionImages(images)
	// Text extraction and field analysis run concurrently and
	// independently per item; neither gates the other.
	p.pipeline.ExtractBatch(context.Background(), items)
	p.pipeline.AnalyzeBatch(context.Background(), items)
	return true
}
