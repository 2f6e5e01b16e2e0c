package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/z-wentao/capflow/pkg/config"
	"github.com/z-wentao/capflow/pkg/coordinator"
	"github.com/z-wentao/capflow/pkg/media"
	"github.com/z-wentao/capflow/pkg/models"
	"github.com/z-wentao/capflow/pkg/processor"
	"github.com/z-wentao/capflow/pkg/queue"
	"github.com/z-wentao/capflow/pkg/setup"
	"github.com/z-wentao/capflow/pkg/storage"
	"github.com/z-wentao/capflow/pkg/store"
	"github.com/z-wentao/capflow/pkg/stt"
	"github.com/z-wentao/capflow/pkg/worker"
)

// App holds every wired dependency of the API binary.
type App struct {
	config  *config.Config
	queue   queue.Queue
	store   storage.Store
	objects store.ObjectStore
	hub     *queue.ResultHub
	coord   *coordinator.Coordinator

	// pool is only set when the bus is in-memory; jobs then run inside
	// this process instead of a separate worker binary.
	pool *worker.Pool
}

func main() {
	configPath := os.Getenv("CAPFLOW_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Println("✓ config loaded")

	app := &App{config: cfg}

	app.queue, err = setup.NewQueue(cfg)
	if err != nil {
		log.Fatalf("init queue: %v", err)
	}
	log.Printf("✓ queue ready (%s)", cfg.Queue.Type)

	app.store, err = setup.NewSessionStore(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	log.Printf("✓ storage ready (%s)", cfg.Storage.Type)

	app.objects, err = setup.NewObjectStore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("init object store: %v", err)
	}
	log.Printf("✓ object store ready (%s)", cfg.ObjectStore.Type)

	app.coord = coordinator.New(app.store, app.queue, cfg.Media.ChunkDuration)

	app.hub = queue.NewResultHub(app.coord.HandleResult)
	results, err := app.queue.ConsumeResults()
	if err != nil {
		log.Fatalf("consume results: %v", err)
	}
	go app.hub.Run(results)

	// The in-memory bus only exists inside this process, so the worker
	// pool has to live here too.
	if cfg.Queue.Type == "memory" {
		primary, wordLevel, err := stt.Select(cfg.Providers)
		if err != nil {
			log.Fatalf("init providers: %v", err)
		}
		toolkit := media.NewToolkit(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
		procs := processor.New(app.objects, toolkit, primary, wordLevel, cfg.Media.ChunkDuration)

		app.pool = worker.NewPool(app.queue, cfg.Queue.Workers)
		procs.RegisterAll(app.pool)
		if err := app.pool.Start(); err != nil {
			log.Fatalf("start worker pool: %v", err)
		}
		log.Printf("✓ in-process worker pool started (%d workers)", cfg.Queue.Workers)
	}

	router := app.setupRouter()
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("🚀 capflow API listening on http://localhost:%d", cfg.Server.Port)

	go func() {
		if err := router.Run(addr); err != nil {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	if app.pool != nil {
		app.pool.Stop()
	}
	app.hub.Stop()
	app.queue.Close()
	app.store.Close()
	log.Println("✓ server stopped")
}

func (app *App) setupRouter() *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	{
		api.GET("/ping", app.handlePing)
		api.GET("/styles", app.handleListStyles)
		api.POST("/sessions", app.handleCreateSession)
		api.GET("/sessions/:session_id", app.handleGetSession)
		api.GET("/sessions/:session_id/chunks", app.handleListChunks)
		api.POST("/sessions/:session_id/style", app.handleSelectStyle)
		api.POST("/sessions/:session_id/chunks/:index/approve", app.handleApprove)
		api.POST("/sessions/:session_id/chunks/:index/reject", app.handleReject)
		api.POST("/sessions/:session_id/cancel", app.handleCancel)
	}

	return r
}

func (app *App) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (app *App) handleListStyles(c *gin.Context) {
	styles := models.Styles()
	c.JSON(http.StatusOK, gin.H{"styles": styles, "count": len(styles)})
}

// isValidVideoFormat reports whether ffmpeg can be expected to demux the
// uploaded container.
func isValidVideoFormat(ext string) bool {
	switch strings.ToLower(ext) {
	case ".mp4", ".mov", ".mkv", ".webm", ".avi", ".m4v":
		return true
	}
	return false
}

// handleCreateSession accepts either a multipart video upload or a JSON
// body with a source_url, then starts the pipeline.
func (app *App) handleCreateSession(c *gin.Context) {
	mode := models.CaptionMode(c.DefaultPostForm("caption_mode", c.Query("caption_mode")))
	language := c.DefaultPostForm("language", c.Query("language"))

	sourceURL := c.PostForm("source_url")
	if sourceURL == "" {
		var req struct {
			SourceURL   string `json:"source_url"`
			CaptionMode string `json:"caption_mode"`
			Language    string `json:"language"`
		}
		if strings.Contains(c.ContentType(), "application/json") {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
				return
			}
			sourceURL = req.SourceURL
			if req.CaptionMode != "" {
				mode = models.CaptionMode(req.CaptionMode)
			}
			if req.Language != "" {
				language = req.Language
			}
		}
	}

	if sourceURL == "" {
		file, err := c.FormFile("video")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provide a video file or a source_url"})
			return
		}
		ext := filepath.Ext(file.Filename)
		if !isValidVideoFormat(ext) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("unsupported video format %s", ext),
			})
			return
		}
		if file.Size > app.config.Server.MaxUploadSize {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("file too large, max %.0f MB", float64(app.config.Server.MaxUploadSize)/1024/1024),
			})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read upload failed"})
			return
		}
		defer src.Close()

		objectPath := "uploads/" + uuid.New().String() + strings.ToLower(ext)
		sourceURL, err = app.objects.Put(c.Request.Context(), objectPath, src, file.Size, "video/mp4")
		if err != nil {
			log.Printf("store upload: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload failed"})
			return
		}
		log.Printf("✓ upload stored: %s (%.2f MB)", objectPath, float64(file.Size)/1024/1024)
	}

	session, err := app.coord.StartSession(c.Request.Context(), sourceURL, language, mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"status":     session.Status,
		"message":    "session started, video is being processed",
	})
}

func (app *App) handleGetSession(c *gin.Context) {
	session, err := app.store.GetSession(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (app *App) handleListChunks(c *gin.Context) {
	sessionID := c.Param("session_id")
	if _, err := app.store.GetSession(sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	chunks, err := app.store.ListChunks(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunks": chunks, "total": len(chunks)})
}

// SelectStyleRequest picks one of the catalog styles for a session.
type SelectStyleRequest struct {
	StyleID string `json:"style_id" binding:"required"`
}

func (app *App) handleSelectStyle(c *gin.Context) {
	var req SelectStyleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := app.coord.SelectStyle(c.Request.Context(), c.Param("session_id"), req.StyleID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "style selected, transcription started"})
}

func (app *App) handleApprove(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chunk index"})
		return
	}
	if err := app.coord.Approve(c.Request.Context(), c.Param("session_id"), index); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "chunk approved"})
}

func (app *App) handleReject(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chunk index"})
		return
	}
	if err := app.coord.Reject(c.Request.Context(), c.Param("session_id"), index); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "chunk rejected, reprocessing"})
}

func (app *App) handleCancel(c *gin.Context) {
	if err := app.coord.Cancel(c.Param("session_id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session cancelled"})
}
