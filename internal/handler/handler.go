package handler

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/audiodock/internal/config"
	"github.com/audiodock/internal/fileops"
	"github.com/audiodock/internal/queue"
	"github.com/audiodock/internal/version"
	"github.com/audiodock/pkg/logger"
)

// Handler handles HTTP requests.
type Handler struct {
	manager *queue.Manager
	cfg     *config.Manager
	tagger  queue.TagWriter
	hub     *EventHub
}

// New creates a new Handler.
func New(m *queue.Manager, cfg *config.Manager, tagger queue.TagWriter, hub *EventHub) *Handler {
	return &Handler{
		manager: m,
		cfg:     cfg,
		tagger:  tagger,
		hub:     hub,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/health", h.Health)
		api.GET("/version", h.Version)

		// Queue submission and control
		api.POST("/downloads", h.SubmitDownloads)
		api.POST("/queue/cancel", h.CancelAll)
		api.POST("/queue/clear", h.ClearQueue)

		// Queue inspection
		api.GET("/queue", h.GetQueue)
		api.GET("/queue/stats", h.GetQueueStats)
		api.GET("/queue/:id", h.GetItem)

		// Poll-based event feed
		api.GET("/events", h.GetEvents)

		// Settings
		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)

		// Library
		api.GET("/files", h.ListFiles)
		api.POST("/metadata", h.UpdateMetadata)
	}
}

// Health returns service health status.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Version returns service version.
func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": version.Version})
}

// SubmitDownloadsRequest is the request body for queueing downloads.
type SubmitDownloadsRequest struct {
	Queries []string `json:"queries" binding:"required"`
}

// SubmitDownloads queues the given queries and starts processing. Blank
// queries are skipped; items join the running batch if one is active.
func (h *Handler) SubmitDownloads(c *gin.Context) {
	var req SubmitDownloadsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ids := h.manager.AddItems(req.Queries)
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no non-blank queries given"})
		return
	}

	h.manager.Start()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "downloads queued",
		"items":   ids,
		"count":   len(ids),
	})
}

// CancelAll aborts the running batch. Pending items are dropped immediately;
// the in-flight download stops at its next checkpoint.
func (h *Handler) CancelAll(c *gin.Context) {
	h.manager.CancelAll()
	c.JSON(http.StatusAccepted, gin.H{"message": "cancel requested"})
}

// ClearQueue discards all items. Refused while a batch is running.
func (h *Handler) ClearQueue(c *gin.Context) {
	if err := h.manager.Clear(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "queue cleared"})
}

// GetQueue returns all items in submission order.
func (h *Handler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Items())
}

// GetQueueStats returns per-status counts.
func (h *Handler) GetQueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Stats())
}

// GetItem returns a specific item by ID.
func (h *Handler) GetItem(c *gin.Context) {
	item, ok := h.manager.Item(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	c.JSON(http.StatusOK, item)
}

// GetEvents returns and clears the buffered event feed.
func (h *Handler) GetEvents(c *gin.Context) {
	events := h.hub.Drain()
	if events == nil {
		events = []queue.Event{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// GetSettings returns the editable download settings.
func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg.Get().Download)
}

// UpdateSettings validates, applies and persists new download settings. The
// new values take effect for items fetched after this call.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var dl config.DownloadConfig
	if err := c.ShouldBindJSON(&dl); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.cfg.UpdateDownload(dl); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logger.Infof("⚙️  Settings updated: %s/%d to %s", dl.Format, dl.Bitrate, dl.OutputDir)
	c.JSON(http.StatusOK, dl)
}

// ListFiles returns the audio files in the output directory.
func (h *Handler) ListFiles(c *gin.Context) {
	dir := h.cfg.Get().Download.OutputDir

	files, err := fileops.FindAudioFiles(dir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}

	c.JSON(http.StatusOK, gin.H{
		"folder": dir,
		"files":  names,
		"count":  len(names),
	})
}

// UpdateMetadataRequest is the request body for the metadata editor.
type UpdateMetadataRequest struct {
	File   string `json:"file" binding:"required"` // name relative to the output dir
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
}

// UpdateMetadata rewrites the embedded tags of a downloaded file.
func (h *Handler) UpdateMetadata(c *gin.Context) {
	var req UpdateMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Only names inside the output dir are addressable.
	if strings.Contains(req.File, "..") || filepath.IsAbs(req.File) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}

	path := filepath.Join(h.cfg.Get().Download.OutputDir, req.File)
	if !fileops.Exists(path) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if !fileops.IsAudioFile(path) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not an audio file"})
		return
	}

	fields := queue.TagFields{Title: req.Title, Artist: req.Artist, Album: req.Album}
	if err := h.tagger.WriteTags(context.Background(), path, fields); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.Infof("🏷️  Metadata updated: %s", req.File)
	c.JSON(http.StatusOK, gin.H{"message": "metadata updated", "file": req.File})
}
