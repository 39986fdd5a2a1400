package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"concierge/internal/agent"
	"concierge/internal/history"
	"concierge/pkg/middleware"
)

// AssistantRequest is one user turn as the web client submits it.
type AssistantRequest struct {
	Message     string   `json:"message" binding:"required"`
	SessionID   string   `json:"sessionId"`
	UserName    string   `json:"userName"`
	Images      []string `json:"images"`
	PageContent string   `json:"pageContent"`
}

// AssistantResponse carries the answer plus usage attribution.
type AssistantResponse struct {
	Result      string   `json:"result"`
	SessionID   string   `json:"sessionId"`
	ToolsCalled []string `json:"toolsCalled"`
}

// HandleAssistantTurn runs one conversation turn. The tenant comes from
// the Access-Host header; a missing session id starts a new session.
func HandleAssistantTurn(c *gin.Context) {
	logger := middleware.GetContextLogger(c, deps.Logger)

	var req AssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	result, err := deps.Engine.HandleTurn(c.Request.Context(), agent.TurnRequest{
		Utterance:   req.Message,
		Host:        middleware.GetAccessHost(c),
		SessionID:   sessionID,
		User:        req.UserName,
		Images:      req.Images,
		PageContext: req.PageContent,
	})
	if err != nil {
		logger.WithError(err).Error("Assistant turn failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "assistant unavailable"})
		return
	}

	// Usage stats are best-effort: never fail an answered turn over them.
	if deps.Usage != nil && req.UserName != "" {
		if err := deps.Usage.RecordTurnUsage(c.Request.Context(), req.UserName, time.Now(), result.CapabilitiesUsed); err != nil {
			logger.WithError(err).Warn("Failed to record capability usage")
		}
	}

	toolsCalled := result.CapabilitiesUsed
	if toolsCalled == nil {
		toolsCalled = []string{}
	}
	c.JSON(http.StatusOK, AssistantResponse{
		Result:      result.Answer,
		SessionID:   sessionID,
		ToolsCalled: toolsCalled,
	})
}

// HandleSessionHistory returns the persisted turns of one session. Expired
// or unknown sessions read as empty, not as errors.
func HandleSessionHistory(c *gin.Context) {
	sessionID := c.Param("id")
	turns, err := deps.Sessions.Read(c.Request.Context(), sessionID)
	if err != nil {
		middleware.GetContextLogger(c, deps.Logger).WithError(err).Error("Failed to read session history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
		return
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sessionID,
		"turns":     turns,
	})
}
