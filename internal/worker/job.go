package worker

import (
	"context"

	"expirysnap/internal/models"
)

type JobType int

const (
	Analyze JobType = iota
	Extract
	Stop
)

// VisionCalling is what workers need from the vision service.
type VisionCalling interface {
	ExtractFields(ctx context.Context, image []byte, contentType, hintProduct, hintDate string) (models.FieldResult, error)
	ExtractText(ctx context.Context, image []byte, contentType string) (string, error)
}

// AnalyzeRequest asks for product/expiry fields from one image. The
// session key only drives queue fairness; anonymous callers share one.
type AnalyzeRequest struct {
	Context     context.Context
	SessionKey  string
	Image       []byte
	ContentType string
	HintProduct string
	HintDate    string
}

// ExtractRequest asks for the full visible text of one image.
type ExtractRequest struct {
	Context     context.Context
	SessionKey  string
	Image       []byte
	ContentType string
}

type analyzeReturn struct {
	result models.FieldResult
	err    error
}

type extractReturn struct {
	text string
	err  error
}

type analyzeTask struct {
	req      AnalyzeRequest
	resultCh chan analyzeReturn
}

type extractTask struct {
	req      ExtractRequest
	resultCh chan extractReturn
}

type Job struct {
	Type        JobType
	AnalyzeTask *analyzeTask
	ExtractTask *extractTask
}

// fail settles a job that will never run so its waiter unblocks.
func (job Job) fail(err error) {
	switch job.Type {
	case Analyze:
		job.AnalyzeTask.resultCh <- analyzeReturn{err: err}
	case Extract:
		job.ExtractTask.resultCh <- extractReturn{err: err}
	}
}

func (job Job) sessionKey() string {
	switch job.Type {
	case Analyze:
		return job.AnalyzeTask.req.SessionKey
	case Extract:
		return job.ExtractTask.req.SessionKey
	default:
		return ""
	}
}
