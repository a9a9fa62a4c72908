package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"expirysnap/internal/models"
)

type fakeHandoffAPI struct {
	mu sync.Mutex

	sessionID string
	deepLink  string
	startErr  error

	// imagesAfter is how many polls return 0 before images appear.
	// Negative means images never appear.
	imagesAfter int
	pollErr     error
	images      []models.SessionImage
	fetchErr    error

	polls   int
	fetches int
}

func (f *fakeHandoffAPI) StartSession(ctx context.Context) (string, string, error) {
	if f.startErr != nil {
		return "", "", f.startErr
	}
	return f.sessionID, f.deepLink, nil
}

func (f *fakeHandoffAPI) PollSession(ctx context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return 0, f.pollErr
	}
	if f.imagesAfter < 0 || f.polls <= f.imagesAfter {
		return 0, nil
	}
	return len(f.images), nil
}

func (f *fakeHandoffAPI) FetchSessionImages(ctx context.Context, sessionID string) ([]models.SessionImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.images, nil
}

func (f *fakeHandoffAPI) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func newTestPoller(api HandoffAPI, navigate func(string)) (*Poller, *Gallery, *Pipeline) {
	g := NewGallery()
	p := NewPipeline(&fakeAnalyzer{fields: models.FieldResult{Product: "Milk"}, text: "EXP"}, g)
	poller := NewPoller(api, g, p, PollerConfig{
		Interval:    2 * time.Millisecond,
		MaxAttempts: 5,
		Navigate:    navigate,
	})
	return poller, g, p
}

func waitForState(t *testing.T, p *Poller, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if p.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state %v never reached, stuck at %v", want, p.State())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestPollerDeliversImages(t *testing.T) {
	api := &fakeHandoffAPI{
		sessionID:   "abc123",
		deepLink:    "expirysnap://camera?session=abc123",
		imagesAfter: 2,
		images: []models.SessionImage{
			{Filename: "a.jpg", ContentType: "image/jpeg", Data: []byte{1}},
			{Filename: "b.jpg", ContentType: "image/jpeg", Data: []byte{2}},
		},
	}
	var navigated string
	poller, g, pipe := newTestPoller(api, func(link string) { navigated = link })

	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if navigated != "expirysnap://camera?session=abc123" {
		t.Fatalf("deep link not opened, got %q", navigated)
	}
	if got := poller.SessionID(); got != "abc123" {
		t.Fatalf("session id = %q", got)
	}

	waitForState(t, poller, StateImagesReceived)
	pipe.Wait()

	items := g.Items()
	if len(items) != 2 {
		t.Fatalf("gallery has %d items, want 2", len(items))
	}
	// The pipeline processed the delivered batch.
	if items[0].Product != "Milk" || items[0].ExtractedText != "EXP" {
		t.Fatalf("pipeline did not run on delivered items: %#v", items[0])
	}
	if poller.SessionID() != "" {
		t.Fatalf("session id should clear after delivery")
	}
}

func TestPollerTimesOutAtAttemptBudget(t *testing.T) {
	api := &fakeHandoffAPI{sessionID: "abc123", imagesAfter: -1}
	poller, _, _ := newTestPoller(api, nil)

	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, poller, StateTimedOut)

	// Budget is 5 attempts; the loop stops before a sixth request.
	if got := api.pollCount(); got != 5 {
		t.Fatalf("made %d polls, want exactly 5", got)
	}
	settled := api.pollCount()
	time.Sleep(20 * time.Millisecond)
	if api.pollCount() != settled {
		t.Fatalf("loop kept polling after timeout")
	}
}

func TestPollerCancelStopsLoopAndDiscardsResults(t *testing.T) {
	api := &fakeHandoffAPI{
		sessionID:   "abc123",
		imagesAfter: 50,
		images:      []models.SessionImage{{Filename: "a.jpg", ContentType: "image/jpeg", Data: []byte{1}}},
	}
	poller, g, _ := newTestPoller(api, nil)

	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	poller.Cancel()

	if got := poller.State(); got != StateCancelled {
		t.Fatalf("state after cancel = %v", got)
	}
	if poller.SessionID() != "" {
		t.Fatalf("session id should clear on cancel")
	}

	// Nothing from the dead loop may land later.
	time.Sleep(20 * time.Millisecond)
	if len(g.Items()) != 0 {
		t.Fatalf("cancelled handoff still delivered images")
	}
	if got := poller.State(); got != StateCancelled {
		t.Fatalf("state drifted after cancel: %v", got)
	}
}

func TestPollerCancelIsIdempotent(t *testing.T) {
	poller, _, _ := newTestPoller(&fakeHandoffAPI{sessionID: "abc123", imagesAfter: -1}, nil)

	poller.Cancel()
	if got := poller.State(); got != StateIdle {
		t.Fatalf("cancel with nothing running moved state to %v", got)
	}

	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	poller.Cancel()
	poller.Cancel()
	if got := poller.State(); got != StateCancelled {
		t.Fatalf("state after double cancel = %v", got)
	}
}

func TestPollerRestartReplacesLoop(t *testing.T) {
	api := &fakeHandoffAPI{sessionID: "first", imagesAfter: -1}
	poller, _, _ := newTestPoller(api, nil)

	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	api.mu.Lock()
	api.sessionID = "second"
	api.mu.Unlock()
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if got := poller.SessionID(); got != "second" {
		t.Fatalf("active session = %q, want the restarted one", got)
	}
	if got := poller.State(); got != StateAwaitingHandoff {
		t.Fatalf("state after restart = %v", got)
	}
	poller.Cancel()
}

func TestPollerSessionNotFoundFails(t *testing.T) {
	api := &fakeHandoffAPI{sessionID: "abc123", pollErr: ErrSessionNotFound}
	poller, _, _ := newTestPoller(api, nil)

	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, poller, StateFailed)

	if got := api.pollCount(); got != 1 {
		t.Fatalf("made %d polls after terminal error, want 1", got)
	}
}

func TestPollerStartFailure(t *testing.T) {
	api := &fakeHandoffAPI{startErr: context.DeadlineExceeded}
	poller, _, _ := newTestPoller(api, nil)

	if err := poller.Start(context.Background()); err == nil {
		t.Fatalf("start should surface the session creation error")
	}
	if got := poller.State(); got != StateFailed {
		t.Fatalf("state after failed start = %v", got)
	}
}
