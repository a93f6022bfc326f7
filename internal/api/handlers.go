package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"notifyd/internal/dispatch"
	logx "notifyd/pkg/logx"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 1000
)

type notificationRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Channel string `json:"channel,omitempty"`
}

func (s *Server) bindNotification(c *gin.Context) (notificationRequest, bool) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return req, false
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title or body required"})
		return req, false
	}
	return req, true
}

func (s *Server) handleSubmit(c *gin.Context) {
	req, ok := s.bindNotification(c)
	if !ok {
		return
	}
	s.deps.Dispatcher.Submit(req.Title, req.Body, req.Channel)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "pending": s.deps.Dispatcher.Pending()})
}

func (s *Server) handleDispatch(c *gin.Context) {
	req, ok := s.bindNotification(c)
	if !ok {
		return
	}
	rep, err := s.deps.Dispatcher.DispatchNow(c.Request.Context(), req.Title, req.Body, req.Channel)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatch.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	rep = rep.Redacted()
	c.JSON(http.StatusOK, gin.H{
		"request_id": rep.RequestID,
		"successes":  rep.Successes(),
		"failures":   rep.Failures(),
		"outcomes":   rep.Outcomes,
		"channels":   rep.ByChannel(),
	})
}

func (s *Server) handleChannels(c *gin.Context) {
	if s.deps.Channels == nil {
		c.JSON(http.StatusOK, gin.H{"channels": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": s.deps.Channels()})
}

func (s *Server) handleDeliveries(c *gin.Context) {
	limit := defaultDeliveryLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxDeliveryLimit)
	}
	if s.deps.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "delivery history is disabled"})
		return
	}
	recs, err := s.deps.Store.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Warn("history read failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": recs})
}

func (s *Server) handleSchedules(c *gin.Context) {
	if s.deps.Schedules == nil {
		c.JSON(http.StatusOK, gin.H{"schedules": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": s.deps.Schedules()})
}

// handleHealth reports 503 when any supervised component has failed.
func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	comps := gin.H{}
	if s.deps.Loops != nil {
		for name, snap := range s.deps.Loops() {
			comps[name] = snap
			if !snap.Healthy() {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
	}
	c.JSON(code, gin.H{
		"status":     status,
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"pending":    s.deps.Dispatcher.Pending(),
		"components": comps,
	})
}
