// Package server exposes the submission pipeline over HTTP for systems
// that prefer a REST facade to the Go API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/tracker"
	"github.com/rezonia/sifen-client/pkg/sifen"
)

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// Pipeline is the part of the client the server drives
type Pipeline interface {
	Submit(ctx context.Context, doc *model.Document) (*sifen.SubmitResult, error)
	BatchStatus(ctx context.Context, correlationID string) (*tracker.BatchStatus, error)
	PollOnce(ctx context.Context, correlationID string) (*tracker.PollResult, error)
}

// Server is the HTTP facade
type Server struct {
	config   *Config
	router   *gin.Engine
	pipeline Pipeline
	logger   *zap.Logger
}

// NewServer creates the facade around an existing pipeline client
func NewServer(config *Config, pipeline Pipeline, logger *zap.Logger) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config:   config,
		router:   router,
		pipeline: pipeline,
		logger:   logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/invoices/submit", s.handleSubmit)
		v1.GET("/batches/:id", s.handleBatchStatus)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	doc, err := req.Document()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	result, err := s.pipeline.Submit(ctx, doc)
	if err != nil {
		status, body := errorResponse(err)
		if result != nil {
			body.Code = result.Code
			body.Message = result.Message
			body.CorrelationID = result.CorrelationID
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{
		CDC:            result.CDC,
		QRLink:         result.QRLink,
		CorrelationID:  result.CorrelationID,
		ProtocolNumber: result.ProtocolNumber,
		Code:           result.Code,
		Message:        result.Message,
		Status:         string(result.Batch.Status),
	})
}

func (s *Server) handleBatchStatus(c *gin.Context) {
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	// poll=true refreshes against the platform before answering
	if c.Query("poll") == "true" {
		result, err := s.pipeline.PollOnce(ctx, id)
		if err != nil {
			status, body := errorResponse(err)
			c.JSON(status, body)
			return
		}
		c.JSON(http.StatusOK, batchResponse(result.Batch, result.Documents))
		return
	}

	bs, err := s.pipeline.BatchStatus(ctx, id)
	if err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}
	if bs == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "batch is not tracked"})
		return
	}
	c.JSON(http.StatusOK, batchResponse(bs, nil))
}

// errorResponse maps pipeline error kinds to HTTP status codes. Client
// input problems are 4xx, platform rejections 422, wire failures 502.
func errorResponse(err error) (int, ErrorResponse) {
	var pe *model.PipelineError
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error()}
	}

	resp := ErrorResponse{Error: pe.Message, Kind: pe.Kind, Field: pe.Field}
	switch pe.Kind {
	case model.KindFormat, model.KindStructuralInvariant, model.KindPackaging, model.KindPreflight:
		return http.StatusBadRequest, resp
	case model.KindMissingCredential, model.KindInvalidArchive, model.KindSigning:
		return http.StatusInternalServerError, resp
	case model.KindBusinessRejection:
		return http.StatusUnprocessableEntity, resp
	case model.KindTransport:
		return http.StatusBadGateway, resp
	default:
		return http.StatusInternalServerError, resp
	}
}
