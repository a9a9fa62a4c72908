package models

import "time"

// Session is the server-held rendezvous record linking the two devices.
// Its ID doubles as the bearer capability: any holder may poll or upload.
type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionImage is an image handed back to the polling client with the
// payload inlined, ready for local decoding.
type SessionImage struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}
