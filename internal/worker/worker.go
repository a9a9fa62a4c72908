package worker

import "context"

type Worker struct {
	pool       *jobChannelPool
	vision     VisionCalling
	jobChannel chan Job
	quit       chan struct{}
}

func NewWorker(pool *jobChannelPool, vision VisionCalling) *Worker {
	return &Worker{
		pool:       pool,
		vision:     vision,
		jobChannel: make(chan Job),
		quit:       make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			select {
			case job := <-w.jobChannel:
				if job.Type == Stop {
					return
				}
				w.execute(job)
				w.pool.Release(w.jobChannel)
			case <-w.quit:
				return
			}
		}
	}()
}

func (w *Worker) execute(job Job) {
	switch job.Type {
	case Analyze:
		task := job.AnalyzeTask
		ctx := task.req.Context
		if ctx == nil {
			ctx = context.Background()
		}
		result, err := w.vision.ExtractFields(ctx, task.req.Image, task.req.ContentType, task.req.HintProduct, task.req.HintDate)
		task.resultCh <- analyzeReturn{result: result, err: err}
	case Extract:
		task := job.ExtractTask
		ctx := task.req.Context
		if ctx == nil {
			ctx = context.Background()
		}
		text, err := w.vision.ExtractText(ctx, task.req.Image, task.req.ContentType)
		task.resultCh <- extractReturn{text: text, err: err}
	}
}

func (w *Worker) Stop() {
	close(w.quit)
}
