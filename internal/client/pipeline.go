package client

import (
	"context"
	"log"
	"sync"

	"expirysnap/internal/models"
)

// ExtractErrorText is what a failed text extraction leaves on the item.
const ExtractErrorText = "Error extracting text"

// Analyzer is the external analysis collaborator: both calls may fail,
// and failures are isolated per item.
type Analyzer interface {
	ExtractFields(ctx context.Context, image []byte, contentType, hintProduct, hintDate string) (models.FieldResult, error)
	ExtractText(ctx context.Context, image []byte, contentType string) (string, error)
}

// Pipeline fans analysis out per item and merges results back into the
// gallery keyed by item id, so completion order never matters.
type Pipeline struct {
	analyzer Analyzer
	gallery  *Gallery

	mu      sync.Mutex
	batches int
	settled sync.WaitGroup
}

func NewPipeline(analyzer Analyzer, gallery *Gallery) *Pipeline {
	return &Pipeline{analyzer: analyzer, gallery: gallery}
}

// AnalyzeBatch dispatches one concurrent field-extraction call per item
// and returns immediately. The batch stays outstanding until every call
// settles, success or failure; a failed item keeps its prior fields.
func (p *Pipeline) AnalyzeBatch(ctx context.Context, items []models.ImageItem) {
	if len(items) == 0 {
		return
	}
	p.mu.Lock()
	p.batches++
	p.mu.Unlock()
	p.settled.Add(1)

	go func() {
		defer func() {
			p.mu.Lock()
			p.batches--
			p.mu.Unlock()
			p.settled.Done()
		}()

		var wg sync.WaitGroup
		for _, item := range items {
			wg.Add(1)
			go func(item models.ImageItem) {
				defer wg.Done()
				p.analyzeOne(ctx, item)
			}(item)
		}
		wg.Wait()
	}()
}

func (p *Pipeline) analyzeOne(ctx context.Context, item models.ImageItem) {
	data, contentType, ok := p.gallery.blobBytes(item.ID)
	if !ok {
		return
	}
	// Current local values ride along as hints so manual edits survive.
	result, err := p.analyzer.ExtractFields(ctx, data, contentType, item.Product, item.ExpiryDate)
	if err != nil {
		log.Printf("analyze %s failed: %v", item.ID, err)
		return
	}
	p.gallery.ApplyFields(item.ID, result)
}

// ExtractBatch runs text extraction per item, independently of field
// analysis; the two are never sequenced. Each item's IsExtracting flag
// is set before its call is dispatched.
func (p *Pipeline) ExtractBatch(ctx context.Context, items []models.ImageItem) {
	for _, item := range items {
		p.gallery.MarkExtracting(item.ID)
		p.settled.Add(1)
		go func(item models.ImageItem) {
			defer p.settled.Done()
			p.extractOne(ctx, item)
		}(item)
	}
}

func (p *Pipeline) extractOne(ctx context.Context, item models.ImageItem) {
	data, contentType, ok := p.gallery.blobBytes(item.ID)
	if !ok {
		return
	}
	text, err := p.analyzer.ExtractText(ctx, data, contentType)
	if err != nil {
		log.Printf("extract text %s failed: %v", item.ID, err)
		text = ExtractErrorText
	}
	p.gallery.FinishExtract(item.ID, text)
}

// IsAnalyzing reports whether any dispatched batch is still unsettled.
func (p *Pipeline) IsAnalyzing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batches > 0
}

// Wait blocks until all dispatched work has settled.
func (p *Pipeline) Wait() {
	p.settled.Wait()
}
