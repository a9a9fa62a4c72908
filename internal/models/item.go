package models

// ItemStatus is the freshness category derived from an item's expiry date.
// It is always recomputed from ExpiryDate, never set on its own.
type ItemStatus string

const (
	StatusValid        ItemStatus = "Valid"
	StatusExpiringSoon ItemStatus = "Expiring Soon"
	StatusExpired      ItemStatus = "Expired"
)

// ImageItem is the primary-device view of one image: local state only,
// never persisted. Product and ExpiryDate start as placeholders and are
// filled in by the analysis pipeline.
type ImageItem struct {
	ID            string     `json:"id"`
	Filename      string     `json:"filename"`
	ContentType   string     `json:"content_type"`
	Product       string     `json:"product"`
	ExpiryDate    string     `json:"expiry_date"` // YYYY-MM-DD, empty until known
	Status        ItemStatus `json:"status"`
	ExtractedText string     `json:"extracted_text,omitempty"`
	IsExtracting  bool       `json:"is_extracting,omitempty"`
}

// FieldResult carries the fields the analysis collaborator extracted from
// an image. Empty fields mean "nothing found" and never overwrite local
// values on merge.
type FieldResult struct {
	Product    string `json:"product"`
	ExpiryDate string `json:"expiryDate"`
}
