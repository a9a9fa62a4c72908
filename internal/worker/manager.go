package worker

import (
	"context"
	"errors"

	"expirysnap/internal/models"
)

// ErrDispatcherBusy signals a full analysis queue; callers surface it as
// a retryable condition, never as an analysis failure.
var ErrDispatcherBusy = errors.New("analysis queue full")

var errSessionCancelled = errors.New("session jobs cancelled")

// Manager is the synchronous facade over the dispatcher: one call, one
// job, one result. Concurrency is bounded by the pool, fairness by the
// dispatcher's session LRU.
type Manager struct {
	dispatcher *Dispatcher
}

func NewManager(vision VisionCalling, cfg DispatcherConfig) *Manager {
	return &Manager{
		dispatcher: NewDispatcher(cfg, vision),
	}
}

// Analyze runs one field-extraction call through the pool.
func (m *Manager) Analyze(req AnalyzeRequest) (models.FieldResult, error) {
	resultCh := make(chan analyzeReturn, 1)
	job := Job{Type: Analyze, AnalyzeTask: &analyzeTask{req: req, resultCh: resultCh}}
	select {
	case m.dispatcher.JobQueue <- job:
	default:
		return models.FieldResult{}, ErrDispatcherBusy
	}

	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case ret := <-resultCh:
		return ret.result, ret.err
	case <-ctx.Done():
		return models.FieldResult{}, ctx.Err()
	}
}

// ExtractText runs one text-extraction call through the pool.
func (m *Manager) ExtractText(req ExtractRequest) (string, error) {
	resultCh := make(chan extractReturn, 1)
	job := Job{Type: Extract, ExtractTask: &extractTask{req: req, resultCh: resultCh}}
	select {
	case m.dispatcher.JobQueue <- job:
	default:
		return "", ErrDispatcherBusy
	}

	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case ret := <-resultCh:
		return ret.text, ret.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CancelSession drops queued (not yet running) jobs for a session key.
func (m *Manager) CancelSession(key string) {
	m.dispatcher.CancelSession(key)
}
