package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"inkwell/internal/coauthor"
	"inkwell/internal/ratelimit"
)

type CoAuthorHandler struct {
	controller *coauthor.Controller
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

func NewCoAuthorHandler(controller *coauthor.Controller, limiter *ratelimit.Limiter, logger *slog.Logger) *CoAuthorHandler {
	return &CoAuthorHandler{controller: controller, limiter: limiter, logger: logger}
}

// StartAnalysis POST /api/v1/documents/:docId/sections/:sectionId/coauthor/analyze
func (h *CoAuthorHandler) StartAnalysis(c *gin.Context) {
	h.start(c, coauthor.IntentAnalyze)
}

// StartProposal POST /api/v1/documents/:docId/sections/:sectionId/coauthor/proposals
func (h *CoAuthorHandler) StartProposal(c *gin.Context) {
	h.start(c, coauthor.IntentPropose)
}

func (h *CoAuthorHandler) start(c *gin.Context, intent coauthor.Intent) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	documentID := c.Param("docId")
	sectionID := c.Param("sectionId")
	userID := c.GetString("user_id")

	if !h.admit(c, userID, documentID, sectionID, intent) {
		return
	}

	sess, err := h.controller.StartProposal(c.Request.Context(), coauthor.StartParams{
		SessionID:   req.SessionID,
		DocumentID:  documentID,
		SectionID:   sectionID,
		AuthorID:    userID,
		WorkspaceID: c.GetString("workspace_id"),
		Intent:      intent,
		Prompt:      req.Prompt,
	})
	if err != nil {
		respondError(c, mapDomainError(err), err)
		return
	}

	c.Header("Location", streamLocation(sectionID))
	c.JSON(http.StatusAccepted, sessionResponse(sess, "started"))
}

// Cancel POST .../coauthor/sessions/:sessionId/cancel
func (h *CoAuthorHandler) Cancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	err := h.controller.CancelInteraction(c.Request.Context(),
		c.Param("sessionId"), c.Param("sectionId"), coauthor.CancelReason(req.Reason))
	if err != nil {
		respondError(c, mapDomainError(err), err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Retry POST .../coauthor/sessions/:sessionId/retry
func (h *CoAuthorHandler) Retry(c *gin.Context) {
	var req RetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	documentID := c.Param("docId")
	sectionID := c.Param("sectionId")

	// intent 省略时继承上一个 session 的 intent，
	// 限流预算必须先解析再记账，否则会落到空 intent 的窗口上
	intent := coauthor.Intent(req.Intent)
	if intent == "" {
		prev, ok := h.controller.GetSession(c.Param("sessionId"))
		if !ok {
			respondError(c, http.StatusNotFound, coauthor.ErrSessionNotFound)
			return
		}
		intent = prev.Intent
	}

	if !h.admit(c, c.GetString("user_id"), documentID, sectionID, intent) {
		return
	}

	sess, err := h.controller.RetryInteraction(c.Request.Context(),
		c.Param("sessionId"), sectionID, intent)
	if err != nil {
		respondError(c, mapDomainError(err), err)
		return
	}

	c.Header("Location", streamLocation(sectionID))
	c.JSON(http.StatusAccepted, sessionResponse(sess, "started"))
}

// Approve POST .../coauthor/sessions/:sessionId/approve
// 需要携带 proposal 的 diff hash：不匹配说明内容被并发修改，整体失败。
func (h *CoAuthorHandler) Approve(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	proposal, err := h.controller.ApproveProposal(c.Request.Context(),
		c.Param("sessionId"), c.Param("sectionId"), req.DiffHash)
	if err != nil {
		respondError(c, mapDomainError(err), err)
		return
	}

	c.JSON(http.StatusOK, ProposalResponse{
		ProposalID: proposal.ID,
		SessionID:  proposal.SessionID,
		Content:    proposal.Content,
		DiffHash:   proposal.DiffHash,
	})
}

// Reject POST .../coauthor/sessions/:sessionId/reject
func (h *CoAuthorHandler) Reject(c *gin.Context) {
	err := h.controller.RejectProposal(c.Request.Context(),
		c.Param("sessionId"), c.Param("sectionId"))
	if err != nil {
		respondError(c, mapDomainError(err), err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Teardown DELETE .../coauthor/sessions/:sessionId
// 幂等：对未知或已终态的 session 也返回 204。
func (h *CoAuthorHandler) Teardown(c *gin.Context) {
	reason := c.Query("reason")
	if reason == "" {
		reason = "client_teardown"
	}

	h.controller.TeardownSession(c.Request.Context(), c.Param("sessionId"), reason)
	c.Status(http.StatusNoContent)
}

// admit runs the rate-limit check. In enforce mode an over-limit request is
// rejected with retry_after_ms; in log mode it only leaves a trace.
func (h *CoAuthorHandler) admit(c *gin.Context, userID, documentID, sectionID string, intent coauthor.Intent) bool {
	decision := h.limiter.Check(ratelimit.Key{
		UserID:     userID,
		DocumentID: documentID,
		SectionID:  sectionID,
		Intent:     string(intent),
	}, time.Now())

	if !decision.Allowed {
		c.JSON(http.StatusTooManyRequests, RateLimitedResponse{
			Error:        "rate limit exceeded",
			Code:         http.StatusTooManyRequests,
			RetryAfterMS: decision.RetryAfter.Milliseconds(),
		})
		return false
	}

	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
	return true
}

func streamLocation(sectionID string) string {
	return "/api/v1/events/stream?sectionId=" + sectionID
}
