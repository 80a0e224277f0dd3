/*
File: server_api.go
Version: 1.3.0
Description: JSON API on gin: POST /predict, POST /feedback, GET /healthz.
             Middleware chain: request ID, panic recovery, access log, CORS, client access list,
             rate limiter. Malformed bodies count as a missing URL.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	maxRequestIDLen = 128
)

type API struct {
	cfg      ServerConfig
	scorer   *Scorer
	feedback *FeedbackRecorder
	started  time.Time
}

type predictRequest struct {
	URL string `json:"url"`
}

type feedbackRequest struct {
	URL      string `json:"url"`
	Feedback string `json:"feedback"`
}

// NewRouter assembles the engine. access and limiter may be nil.
func NewRouter(cfg ServerConfig, scorer *Scorer, feedback *FeedbackRecorder, access *AccessList, limiter *LimiterManager) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)

	api := &API{cfg: cfg, scorer: scorer, feedback: feedback, started: time.Now()}

	r := gin.New()
	// Only listed proxies may set the client address via X-Forwarded-For.
	if err := r.SetTrustedProxies([]string(cfg.TrustedProxies)); err != nil {
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}
	r.Use(requestIDMiddleware(), gin.Recovery())
	if cfg.AccessLog {
		r.Use(accessLogMiddleware())
	}
	r.Use(corsMiddleware(cfg.CORSOrigins))
	if access.Len() > 0 {
		r.Use(access.Middleware())
	}
	if limiter.Enabled() {
		r.Use(limiter.Middleware())
	}

	r.POST("/predict", api.handlePredict)
	r.POST("/feedback", api.handleFeedback)
	r.GET("/healthz", api.handleHealth)

	return r, nil
}

func (a *API) handlePredict(c *gin.Context) {
	var req predictRequest
	if !a.bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	if a.cfg.parsedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.parsedTimeout)
		defer cancel()
	}

	res, err := a.scorer.Predict(ctx, req.URL)
	if err != nil {
		a.fail(c, "[API] Predict", err)
		return
	}

	if IsDebugEnabled() {
		LogDebug("[API] Predict %s -> phishing=%v (%.2f%%) [%s]", res.URL, res.IsPhishing, res.ConfidenceScore, requestID(c))
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if !a.bind(c, &req) {
		return
	}

	if err := a.feedback.Record(req.URL, req.Feedback); err != nil {
		a.fail(c, "[API] Feedback", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (a *API) handleHealth(c *gin.Context) {
	st := a.scorer.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"uptime":           time.Since(a.started).Round(time.Second).String(),
		"predictions":      st.Predictions,
		"cache_hits":       st.CacheHits,
		"flagged":          st.Flagged,
		"feedback_written": a.feedback.Written(),
	})
}

// bind decodes the JSON body into dst. Decode errors leave dst zero-valued so the handler
// reports a missing URL; only an oversized body is rejected here.
func (a *API) bind(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.cfg.MaxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return false
		}
		if IsDebugEnabled() {
			LogDebug("[API] Ignoring malformed body: %v [%s]", err, requestID(c))
		}
	}
	return true
}

func (a *API) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ErrMissingURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMissingURL.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		LogWarn("%s timed out: %v [%s]", op, err, requestID(c))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "timeout"})
	case errors.Is(err, context.Canceled):
		// client went away
		c.Status(499)
	default:
		LogWarn("%s failed: %v [%s]", op, err, requestID(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- Middleware ---

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		LogInfo("[HTTP] %s %s %d %v client=%s [%s]",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), c.ClientIP(), requestID(c))
	}
}

// corsMiddleware answers preflights with 204 and tags responses for allowed origins.
func corsMiddleware(origins []string) gin.HandlerFunc {
	wildcard := slices.Contains(origins, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
		c.Header("Access-Control-Expose-Headers", requestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
