package client

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"expirysnap/internal/models"
)

// MaxBatchSize caps how many files one add action accepts. This is local
// policy on the primary device; the upload endpoint does not enforce it.
const MaxBatchSize = 10

// Blob is a handle on an image payload held in local memory. Handles are
// closed when their item is removed so payloads do not accumulate.
type Blob interface {
	Bytes() []byte
	Close() error
}

type memoryBlob struct {
	mu   sync.Mutex
	data []byte
}

func newMemoryBlob(data []byte) *memoryBlob { return &memoryBlob{data: data} }

func (b *memoryBlob) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

func (b *memoryBlob) Close() error {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
	return nil
}

// File is a locally selected image before it becomes a gallery item.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type galleryEntry struct {
	item models.ImageItem
	blob Blob
}

// Gallery is the authoritative local image list on the primary device.
// All mutation goes through identity-keyed methods; Status is always
// derived from ExpiryDate, never stored independently.
type Gallery struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*galleryEntry
	seq     int
}

func NewGallery() *Gallery {
	return &Gallery{entries: make(map[string]*galleryEntry)}
}

// AddFiles registers locally selected files, at most MaxBatchSize per
// action, and returns the new items for the analysis pipeline.
func (g *Gallery) AddFiles(files []File) []models.ImageItem {
	if len(files) > MaxBatchSize {
		files = files[:MaxBatchSize]
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	items := make([]models.ImageItem, 0, len(files))
	for _, f := range files {
		items = append(items, g.addLocked(f.Name, f.ContentType, f.Data))
	}
	return items
}

// AddSessionImages registers images received from a completed handoff.
func (g *Gallery) AddSessionImages(images []models.SessionImage) []models.ImageItem {
	g.mu.Lock()
	defer g.mu.Unlock()

	items := make([]models.ImageItem, 0, len(images))
	for _, img := range images {
		items = append(items, g.addLocked(img.Filename, img.ContentType, img.Data))
	}
	return items
}

// addLocked requires g.mu. Placeholder names continue from the running
// sequence so later batches don't restart at product_1.
func (g *Gallery) addLocked(filename, contentType string, data []byte) models.ImageItem {
	g.seq++
	item := models.ImageItem{
		ID:          uuid.NewString(),
		Filename:    filename,
		ContentType: contentType,
		Product:     fmt.Sprintf("product_%d", g.seq),
		Status:      models.StatusValid,
	}
	g.entries[item.ID] = &galleryEntry{item: item, blob: newMemoryBlob(data)}
	g.order = append(g.order, item.ID)
	return item
}

// Remove deletes an item and closes its blob handle. Unknown ids are a
// no-op.
func (g *Gallery) Remove(id string) {
	g.mu.Lock()
	entry, ok := g.entries[id]
	if ok {
		delete(g.entries, id)
		for i, existing := range g.order {
			if existing == id {
				g.order = append(g.order[:i], g.order[i+1:]...)
				break
			}
		}
	}
	g.mu.Unlock()
	if ok {
		entry.blob.Close()
	}
}

// Item returns a snapshot of one item.
func (g *Gallery) Item(id string) (models.ImageItem, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[id]
	if !ok {
		return models.ImageItem{}, false
	}
	return entry.item, true
}

// Items returns a snapshot of all items in insertion order.
func (g *Gallery) Items() []models.ImageItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	items := make([]models.ImageItem, 0, len(g.order))
	for _, id := range g.order {
		items = append(items, g.entries[id].item)
	}
	return items
}

// blobBytes hands the pipeline an item's payload; false when the item is
// already gone.
func (g *Gallery) blobBytes(id string) ([]byte, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[id]
	if !ok {
		return nil, "", false
	}
	return entry.blob.Bytes(), entry.item.ContentType, true
}

// ApplyFields merges an analysis result into the item, keyed strictly by
// id: an empty returned field never overwrites the local value, and
// Status is recomputed from the resulting ExpiryDate. Applying to a
// removed item is a no-op, not an error.
func (g *Gallery) ApplyFields(id string, result models.FieldResult) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[id]
	if !ok {
		return false
	}
	if product := strings.TrimSpace(result.Product); product != "" {
		entry.item.Product = product
	}
	if date := strings.TrimSpace(result.ExpiryDate); date != "" {
		entry.item.ExpiryDate = date
	}
	entry.item.Status = Classify(entry.item.ExpiryDate)
	return true
}

// MarkExtracting flags the item's text extraction as in flight.
func (g *Gallery) MarkExtracting(id string) {
	g.mu.Lock()
	if entry, ok := g.entries[id]; ok {
		entry.item.IsExtracting = true
	}
	g.mu.Unlock()
}

// FinishExtract records the extraction outcome and clears the in-flight
// flag. No-op for removed items.
func (g *Gallery) FinishExtract(id, text string) {
	g.mu.Lock()
	if entry, ok := g.entries[id]; ok {
		entry.item.ExtractedText = text
		entry.item.IsExtracting = false
	}
	g.mu.Unlock()
}

// Search returns items whose product name contains the term,
// case-insensitively. An empty term returns everything.
func (g *Gallery) Search(term string) []models.ImageItem {
	term = strings.ToLower(strings.TrimSpace(term))
	items := g.Items()
	if term == "" {
		return items
	}
	matched := items[:0]
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Product), term) {
			matched = append(matched, item)
		}
	}
	return matched
}

// Counts summarizes the gallery by status.
type Counts struct {
	Total        int
	Valid        int
	ExpiringSoon int
	Expired      int
}

func (g *Gallery) Counts() Counts {
	var c Counts
	for _, item := range g.Items() {
		c.Total++
		switch item.Status {
		case models.StatusExpired:
			c.Expired++
		case models.StatusExpiringSoon:
			c.ExpiringSoon++
		default:
			c.Valid++
		}
	}
	return c
}

// ExportCSV renders the table for download.
func (g *Gallery) ExportCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Image", "Product", "Expiry Date", "Status"}); err != nil {
		return nil, err
	}
	for _, item := range g.Items() {
		if err := w.Write([]string{item.Filename, item.Product, item.ExpiryDate, string(item.Status)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
