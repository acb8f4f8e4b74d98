// Package server exposes the gate pipeline over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"TruckGate/allowlist"
	"TruckGate/audit"
	"TruckGate/monitor"
	"TruckGate/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxFrameBytes = 20 * 1024 * 1024

// Submitter queues one encoded frame for the decision pipeline.
type Submitter interface {
	Submit(ctx context.Context, image []byte) (*pipeline.Result, error)
}

type Options struct {
	Jobs      Submitter
	Allow     allowlist.Store
	Audit     audit.Recorder
	StaticDir string
	ModelsDir string
	Log       *zap.Logger
}

type Server struct {
	jobs      Submitter
	allow     allowlist.Store
	audit     audit.Recorder
	staticDir string
	modelsDir string
	log       *zap.Logger
	router    *gin.Engine
	upgrader  websocket.Upgrader
}

type detectRequest struct {
	Image string `json:"image" binding:"required"`
}

type allowedRequest struct {
	Plates []string `json:"plates"`
}

func New(o Options) *Server {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Audit == nil {
		o.Audit = audit.Noop{}
	}
	if o.ModelsDir == "" {
		o.ModelsDir = "models"
	}
	s := &Server{
		jobs:      o.Jobs,
		allow:     o.Allow,
		audit:     o.Audit,
		staticDir: o.StaticDir,
		modelsDir: o.ModelsDir,
		log:       o.Log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	if s.staticDir != "" {
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(s.staticDir, "index.html"))
		})
		r.Static("/static", s.staticDir)
	}
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/detect", s.detect)
	r.POST("/update_allowed", s.updateAllowed)
	r.GET("/allowed", s.allowed)
	r.GET("/events", s.events)
	r.GET("/ws", s.stream)
	r.POST("/api/models/upload", s.uploadModel)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// Start serves on port in the background; the caller shuts the returned
// server down.
func (s *Server) Start(port int) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("HTTP server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return srv
}

func (s *Server) detect(c *gin.Context) {
	monitor.RequestsTotal.WithLabelValues("http").Inc()
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	res, err := s.decide(pipeline.WithTransport(c.Request.Context(), "http"), req.Image)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) decide(ctx context.Context, dataURL string) (*pipeline.Result, error) {
	data, err := pipeline.DecodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	return s.jobs.Submit(ctx, data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUndecodableImage):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrDetection):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) updateAllowed(c *gin.Context) {
	var req allowedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := s.allow.Replace(c.Request.Context(), req.Plates); err != nil {
		s.log.Error("replace allow-list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save allowed plates"})
		return
	}
	s.log.Info("allow-list updated", zap.Int("plates", len(req.Plates)), zap.String("transport", "http"))
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) allowed(c *gin.Context) {
	plates, err := s.allow.Plates(c.Request.Context())
	if err != nil {
		s.log.Error("read allow-list", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "allow-list unavailable"})
		return
	}
	if plates == nil {
		plates = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"plates": plates})
}

func (s *Server) events(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	evs, err := s.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("read audit log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read events"})
		return
	}
	if evs == nil {
		evs = []audit.GateEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// stream answers every text frame on the socket with one decision.
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)
	ctx := pipeline.WithTransport(c.Request.Context(), "websocket")

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("websocket closed", zap.Error(err))
			}
			return
		}
		var reply any
		switch mt {
		case websocket.TextMessage:
			monitor.RequestsTotal.WithLabelValues("websocket").Inc()
			res, err := s.decide(ctx, string(msg))
			if err != nil {
				reply = gin.H{"error": err.Error()}
			} else {
				reply = res
			}
		default:
			reply = gin.H{"error": "unsupported message type"}
		}
		if err := conn.WriteJSON(reply); err != nil {
			s.log.Warn("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) uploadModel(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	name := filepath.Base(file.Filename)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}
	if err := os.MkdirAll(s.modelsDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create models dir: " + err.Error()})
		return
	}
	modelPath := filepath.Join(s.modelsDir, name)
	if err := c.SaveUploadedFile(file, modelPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file: " + err.Error()})
		return
	}
	// the running detector keeps its model until restart
	s.log.Info("model uploaded, restart to load it", zap.String("path", modelPath), zap.Int64("bytes", file.Size))
	c.JSON(http.StatusOK, gin.H{"data": modelPath, "restartRequired": true})
}
