package api

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"expirysnap/internal/models"
	"expirysnap/internal/service/handoff"
	"expirysnap/internal/store"
	"expirysnap/internal/worker"
)

const defaultMaxUploadBytes = int64(15 << 20)

var allowedContentTypes = []string{"image/"}

// Pipeline is what the HTTP layer needs from the analysis worker pool.
type Pipeline interface {
	Analyze(worker.AnalyzeRequest) (models.FieldResult, error)
	ExtractText(worker.ExtractRequest) (string, error)
}

// Handler wires HTTP routes to the handoff coordinator and the analysis
// pipeline.
type Handler struct {
	handoff        *handoff.Service
	pipeline       Pipeline
	maxUploadBytes int64
}

// NewHandler constructs a Handler instance.
func NewHandler(handoffService *handoff.Service, pipeline Pipeline, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		handoff:        handoffService,
		pipeline:       pipeline,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/session", h.createSession)
	api.GET("/session/:id", h.pollSession)
	api.GET("/session/:id/images", h.getSessionImages)
	api.POST("/session/:id/upload", h.uploadImage)
	api.POST("/analyze", h.analyzeImage)
	api.POST("/extract-text", h.extractText)
}

func (h *Handler) createSession(c *gin.Context) {
	session, deepLink, err := h.handoff.StartHandoff(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create session failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": session.ID,
		"deepLink":  deepLink,
	})
}

func (h *Handler) pollSession(c *gin.Context) {
	status, err := h.handoff.PollSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "poll session failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":  status.SessionID,
		"imageCount": status.ImageCount,
		"createdAt":  status.CreatedAt,
	})
}

func (h *Handler) getSessionImages(c *gin.Context) {
	sessionID := c.Param("id")
	images, err := h.handoff.FetchSessionImages(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch images failed"})
		return
	}

	// Payload inlined as base64 for direct client decoding.
	entries := make([]gin.H, 0, len(images))
	for _, img := range images {
		entries = append(entries, gin.H{
			"filename":    img.Filename,
			"contentType": img.ContentType,
			"data":        base64.StdEncoding.EncodeToString(img.Data),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":  sessionID,
		"imageCount": len(entries),
		"images":     entries,
	})
}

func (h *Handler) uploadImage(c *gin.Context) {
	sessionID := c.Param("id")

	data, filename, contentType, ok := h.readImageForm(c)
	if !ok {
		return
	}

	_, count, err := h.handoff.Upload(c.Request.Context(), sessionID, filename, contentType, data)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		case errors.Is(err, handoff.ErrNoImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image provided"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"sessionId":  sessionID,
		"imageCount": count,
	})
}

func (h *Handler) analyzeImage(c *gin.Context) {
	data, _, contentType, ok := h.readImageForm(c)
	if !ok {
		return
	}

	result, err := h.pipeline.Analyze(worker.AnalyzeRequest{
		Context:     c.Request.Context(),
		SessionKey:  c.ClientIP(),
		Image:       data,
		ContentType: contentType,
		HintProduct: c.PostForm("manualProduct"),
		HintDate:    c.PostForm("manualDate"),
	})
	if err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze image"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product":    result.Product,
		"expiryDate": result.ExpiryDate,
	})
}

func (h *Handler) extractText(c *gin.Context) {
	data, _, contentType, ok := h.readImageForm(c)
	if !ok {
		return
	}

	text, err := h.pipeline.ExtractText(worker.ExtractRequest{
		Context:     c.Request.Context(),
		SessionKey:  c.ClientIP(),
		Image:       data,
		ContentType: contentType,
	})
	if err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to extract text"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"extractedText": text,
	})
}

// readImageForm pulls the multipart "image" field, enforces the size
// cap, and sniffs the payload's real content type.
func (h *Handler) readImageForm(c *gin.Context) (data []byte, filename, contentType string, ok bool) {
	if err := c.Request.ParseMultipartForm(h.maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return nil, "", "", false
	}
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image provided"})
		return nil, "", "", false
	}
	if file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, "", "", false
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return nil, "", "", false
	}
	defer f.Close()
	data, err = io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return nil, "", "", false
	}
	if int64(len(data)) > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, "", "", false
	}

	contentType = http.DetectContentType(data)
	if !isAllowedContentType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return nil, "", "", false
	}
	return data, filepath.Base(file.Filename), contentType, true
}

func isAllowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}
