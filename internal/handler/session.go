package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"reviewloop/internal/generation"
	"reviewloop/internal/models"
	"reviewloop/internal/objectstore"
)

// SessionHandler serves the session-facing endpoints: answer generation,
// user feedback and review status polling.
type SessionHandler interface {
	Generate(c *gin.Context)
	Feedback(c *gin.Context)
	Status(c *gin.Context)
}

type sessionHandler struct {
	store  objectstore.Store
	gen    *generation.Client
	prefix string
	logger *zap.Logger
}

// NewSessionHandler creates the session handler.
func NewSessionHandler(store objectstore.Store, gen *generation.Client, prefix string, logger *zap.Logger) SessionHandler {
	return &sessionHandler{store: store, gen: gen, prefix: prefix, logger: logger}
}

func (h *sessionHandler) key(sessionID string) string {
	return h.prefix + sessionID + ".json"
}

// GenerateRequest is the serving-layer request shape.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature"`
	TopP        *float64 `json:"top_p"`
}

// Generate handles POST /generate: calls the inference service, logs the
// session for review and answers with a pending session id.
func (h *sessionHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No prompt provided"})
		return
	}

	temperature, topP := 0.7, 0.95
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if req.TopP != nil {
		topP = *req.TopP
	}

	genResp, err := h.gen.Generate(c.Request.Context(), generation.GenerateRequest{
		Prompt:      req.Prompt,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		h.logger.Error("Inference call failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation failed"})
		return
	}

	sessionID := uuid.NewString()
	body := models.SessionBody{
		Prompt:      req.Prompt,
		Response:    genResp.Reply(),
		Temperature: temperature,
		TopP:        topP,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		SessionID:   sessionID,
	}

	data, err := json.Marshal(body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode session"})
		return
	}

	key := h.key(sessionID)
	if err := h.store.Put(c.Request.Context(), key, data, "application/json"); err != nil {
		h.logger.Error("Failed to store session", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store session"})
		return
	}

	tags := map[string]string{
		models.TagStatus:       models.StatusNeedsReview,
		models.TagFeedbackType: models.FeedbackNone,
		models.TagConfidence:   strconv.FormatFloat(genResp.Probability, 'f', 4, 64),
	}
	if err := h.store.PutTags(c.Request.Context(), key, tags); err != nil {
		h.logger.Error("Failed to tag session", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to tag session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "status": "pending"})
}

// FeedbackRequest carries a user's reaction to an answer.
type FeedbackRequest struct {
	FeedbackType string `json:"feedback_type"`
}

// Feedback handles POST /sessions/:session_id/feedback with a
// read-modify-write of the session tag set.
func (h *sessionHandler) Feedback(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FeedbackType != models.FeedbackLike && req.FeedbackType != models.FeedbackDislike {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feedback_type must be like or dislike"})
		return
	}

	key := h.key(sessionID)
	tags, err := h.store.GetTags(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	tags[models.TagFeedbackType] = req.FeedbackType
	if err := h.store.PutTags(c.Request.Context(), key, tags); err != nil {
		h.logger.Error("Failed to update feedback", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "feedback recorded"})
}

// Status handles GET /status/:session_id, the synchronous read path the
// serving layer polls. It never blocks on the pipeline: a session whose
// tags are not applied yet simply reads as pending.
func (h *sessionHandler) Status(c *gin.Context) {
	sessionID := c.Param("session_id")
	key := h.key(sessionID)

	tags, err := h.store.GetTags(c.Request.Context(), key)
	if err != nil {
		// Object just created or not found at all: report pending.
		c.JSON(http.StatusOK, gin.H{"status": "pending"})
		return
	}

	switch tags[models.TagStatus] {
	case models.StatusApproved:
		body, err := h.store.Get(c.Request.Context(), key)
		if err != nil {
			h.logger.Error("Failed to read session body", zap.String("key", key), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read session"})
			return
		}
		var sess models.SessionBody
		if err := json.Unmarshal(body, &sess); err != nil {
			h.logger.Error("Malformed session body", zap.String("key", key), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "malformed session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "approved", "response": sess.Response})
	case models.StatusRejected:
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "reason": tags[models.TagDoctorComment]})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "pending"})
	}
}
