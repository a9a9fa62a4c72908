package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"expirysnap/internal/models"
)

// API talks to the expirysnap server over HTTP. It implements both the
// HandoffAPI the poller drives and the Analyzer the pipeline calls.
type API struct {
	baseURL string
	httpc   *http.Client
}

func NewAPI(baseURL string, httpc *http.Client) *API {
	if httpc == nil {
		httpc = &http.Client{Timeout: 90 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), httpc: httpc}
}

func (a *API) StartSession(ctx context.Context) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/session", nil)
	if err != nil {
		return "", "", err
	}
	var body struct {
		SessionID string `json:"sessionId"`
		DeepLink  string `json:"deepLink"`
	}
	if err := a.do(req, &body); err != nil {
		return "", "", err
	}
	return body.SessionID, body.DeepLink, nil
}

func (a *API) PollSession(ctx context.Context, sessionID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/session/"+sessionID, nil)
	if err != nil {
		return 0, err
	}
	var body struct {
		ImageCount int `json:"imageCount"`
	}
	if err := a.do(req, &body); err != nil {
		return 0, err
	}
	return body.ImageCount, nil
}

func (a *API) FetchSessionImages(ctx context.Context, sessionID string) ([]models.SessionImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/session/"+sessionID+"/images", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Images []models.SessionImage `json:"images"`
	}
	if err := a.do(req, &body); err != nil {
		return nil, err
	}
	return body.Images, nil
}

// Upload pushes one image into a session; this is the call the
// secondary device makes after following the deep link.
func (a *API) Upload(ctx context.Context, sessionID, filename, contentType string, data []byte) (int, error) {
	req, err := a.multipartRequest(ctx, "/api/session/"+sessionID+"/upload", filename, contentType, data, nil)
	if err != nil {
		return 0, err
	}
	var body struct {
		ImageCount int `json:"imageCount"`
	}
	if err := a.do(req, &body); err != nil {
		return 0, err
	}
	return body.ImageCount, nil
}

func (a *API) ExtractFields(ctx context.Context, image []byte, contentType, hintProduct, hintDate string) (models.FieldResult, error) {
	fields := map[string]string{
		"manualProduct": hintProduct,
		"manualDate":    hintDate,
	}
	req, err := a.multipartRequest(ctx, "/api/analyze", "image", contentType, image, fields)
	if err != nil {
		return models.FieldResult{}, err
	}
	var result models.FieldResult
	if err := a.do(req, &result); err != nil {
		return models.FieldResult{}, err
	}
	return result, nil
}

func (a *API) ExtractText(ctx context.Context, image []byte, contentType string) (string, error) {
	req, err := a.multipartRequest(ctx, "/api/extract-text", "image", contentType, image, nil)
	if err != nil {
		return "", err
	}
	var body struct {
		ExtractedText string `json:"extractedText"`
	}
	if err := a.do(req, &body); err != nil {
		return "", err
	}
	return body.ExtractedText, nil
}

func (a *API) multipartRequest(ctx context.Context, path, filename, contentType string, data []byte, fields map[string]string) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func (a *API) do(req *http.Request, out interface{}) error {
	resp, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
