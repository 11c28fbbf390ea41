// Package httpapi implements the crawl kernel's Command API: a small set
// of Gin handlers that start/cancel sessions and partial syncs, report
// session status, and stream the additive event schema over Server-Sent
// Events -- generalized from the teacher's cmd/apiserver gin wiring and
// its sse_service.go client-registration/keep-alive/cleanup-loop pattern.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fntelecomllc/crawlkernel/internal/events"
	"github.com/fntelecomllc/crawlkernel/internal/obshealth"
)

var validate = validator.New()

// SessionRunner is the subset of SessionActor the HTTP layer depends on.
// Kept as a narrow interface so httpapi can be tested without a live
// actors.SessionActor. A SessionRunner that also implements Validator
// gets the POST /validation route wired in; one that doesn't leaves it
// responding 501, rather than forcing every test double to implement a
// method it never exercises.
type SessionRunner interface {
	StartCrawling(ctx context.Context, req StartCrawlRequest) (uuid.UUID, error)
	StartPartialSync(ctx context.Context, req StartSyncRequest) (uuid.UUID, error)
	CancelSession(sessionID uuid.UUID) error
	SessionStatus(sessionID uuid.UUID) (SessionStatusView, bool)
}

// Validator runs the full-table Validation scan synchronously, reporting
// its divergence/anomaly counts.
type Validator interface {
	RunValidation(ctx context.Context) (ValidationReport, error)
}

// ValidationReport is the Command API's summary of one Validation run.
type ValidationReport struct {
	Divergences int `json:"divergences"`
	Anomalies   int `json:"anomalies"`
}

// StartCrawlRequest is the Command API payload for StartCrawling.
type StartCrawlRequest struct {
	Mode         string  `json:"mode" binding:"required,oneof=intelligent manual verification" validate:"required,oneof=intelligent manual verification"`
	ManualStart  int32   `json:"manualStart,omitempty" validate:"omitempty,min=1"`
	ManualEnd    int32   `json:"manualEnd,omitempty" validate:"omitempty,min=1"`
	Verification []int32 `json:"verificationPages,omitempty"`
}

// StartSyncRequest is the Command API payload shared by StartPartialSync /
// StartSyncPages / StartDiagnosticSync / StartRepairSync -- all four
// /sync/* routes are served by the same handler and treat it identically.
type StartSyncRequest struct {
	RangeExpr string `json:"rangeExpr" binding:"required" validate:"required"`
	DryRun    bool   `json:"dryRun"`
}

// SessionStatusView is the Command API's snapshot of one session.
type SessionStatusView struct {
	SessionID uuid.UUID `json:"sessionId"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"startedAt"`
}

// Server bundles the Command API's collaborators and the per-session event
// hubs backing the SSE stream.
type Server struct {
	runner SessionRunner

	mu   sync.RWMutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

type subscriber struct {
	ch chan events.Envelope
}

// NewServer constructs the Command API server bound to a SessionRunner.
func NewServer(runner SessionRunner) *Server {
	return &Server{runner: runner, subs: make(map[uuid.UUID]map[*subscriber]struct{})}
}

// Publish implements events.Sink, fanning one envelope out to every SSE
// subscriber of its session.
func (s *Server) Publish(env events.Envelope) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs[env.SessionID] {
		select {
		case sub.ch <- env:
		default:
		}
	}
}

// Router builds the Gin engine exposing the Command API.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.POST("/sessions", s.handleStartCrawling)
	r.POST("/sessions/:sessionId/cancel", s.handleCancelSession)
	r.GET("/sessions/:sessionId", s.handleSessionStatus)
	r.GET("/sessions/:sessionId/events", s.handleEventStream)

	r.POST("/sync/partial", s.handleStartSync)
	r.POST("/sync/pages", s.handleStartSync)
	r.POST("/sync/diagnostic", s.handleStartSync)
	r.POST("/sync/repair", s.handleStartSync)

	r.POST("/validation", s.handleRunValidation)

	return r
}

func (s *Server) handleRunValidation(c *gin.Context) {
	validator, ok := s.runner.(Validator)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "validation not wired for this runner"})
		return
	}
	report, err := validator.RunValidation(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, obshealth.Read())
}

func (s *Server) handleStartCrawling(c *gin.Context) {
	var req StartCrawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionID, err := s.runner.StartCrawling(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sessionId": sessionID})
}

func (s *Server) handleStartSync(c *gin.Context) {
	var req StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionID, err := s.runner.StartPartialSync(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sessionId": sessionID})
}

func (s *Server) handleCancelSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	if err := s.runner.CancelSession(sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancelled": true})
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	view, ok := s.runner.SessionStatus(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleEventStream serves one session's event stream as SSE, mirroring
// the teacher's sse_service.go RegisterClient/keep-alive/UnregisterClient
// lifecycle: register against the flushable ResponseWriter, write a
// periodic comment as a keep-alive, and unregister on client disconnect.
func (s *Server) handleEventStream(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	sub := &subscriber{ch: make(chan events.Envelope, 64)}
	s.mu.Lock()
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[*subscriber]struct{})
	}
	s.subs[sessionID][sub] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs[sessionID], sub)
		s.mu.Unlock()
	}()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()
		case env := <-sub.ch:
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", env.EventName, marshalOrEmpty(env))
			flusher.Flush()
		}
	}
}

func marshalOrEmpty(env events.Envelope) string {
	b, err := json.Marshal(env)
	if err != nil {
		return "{}"
	}
	return string(b)
}
