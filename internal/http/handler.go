package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"anpr-vision/internal/config"
	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/media"
	"anpr-vision/internal/service"
	"anpr-vision/internal/storage"
	"anpr-vision/internal/vision"
)

type VideoJobs interface {
	Submit(ctx context.Context, req service.VideoRequest) (*anpr.Job, error)
	Cancel(ctx context.Context, id string) error
}

type JobStatusReader interface {
	Get(ctx context.Context, id string) (*anpr.Job, error)
}

type StreamRunner interface {
	Run(ctx context.Context, req service.StreamRequest) (*anpr.StreamResult, error)
}

type ImageDetector interface {
	Detect(ctx context.Context, data []byte, task anpr.Task, roi *anpr.ROI) (*anpr.ImageResult, error)
}

type History interface {
	Frames(ctx context.Context, limit, offset int) (*service.Page[anpr.FrameRecord], error)
	Frame(ctx context.Context, id int64) (*anpr.FrameRecord, error)
	Plates(ctx context.Context, limit, offset int) (*service.Page[anpr.PlateRow], error)
	Videos(ctx context.Context, limit, offset int) (*service.Page[anpr.Job], error)
	Stats(ctx context.Context) (anpr.Stats, error)
}

// Services groups what the handler serves. *service.VideoService,
// *service.StatusService and friends satisfy these.
type Services struct {
	Videos  VideoJobs
	Status  JobStatusReader
	Streams StreamRunner
	Images  ImageDetector
	History History
}

type Handler struct {
	services Services
	config   *config.Config
	log      zerolog.Logger
}

func NewHandler(
	services Services,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		services: services,
		config:   cfg,
		log:      log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/health", h.health)

	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/infer/image", h.inferImage)
		public.GET("/infer/video/status/:id", h.videoStatus)
		public.GET("/history/frames", h.listFrames)
		public.GET("/history/frames/:id", h.getFrame)
		public.GET("/history/plates", h.listPlates)
		public.GET("/history/videos", h.listVideos)
		public.GET("/history/stats", h.stats)
	}

	// Protected endpoints: everything that starts or stops work
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/infer/video", h.submitVideo)
		protected.POST("/infer/video/cancel/:id", h.cancelVideo)
		protected.POST("/infer/stream", h.runStream)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) submitVideo(c *gin.Context) {
	data, err := h.readUpload(c, "file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	task, roi, err := parseTaskAndROI(c.PostForm("task"), c.PostForm("roi"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	frameSkip := 0
	if v := strings.TrimSpace(c.PostForm("frame_skip")); v != "" {
		if frameSkip, err = parseInt(v); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("frame_skip must be an integer"))
			return
		}
	}

	job, err := h.services.Videos.Submit(c.Request.Context(), service.VideoRequest{
		Data:      data,
		Task:      task,
		ROI:       roi,
		FrameSkip: frameSkip,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (h *Handler) videoStatus(c *gin.Context) {
	job, err := h.services.Status.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":           job.ID,
		"status":           job.Status,
		"progress":         job.ProgressPercent,
		"result_url":       nullable(job.VideoURL),
		"vehicle_count":    job.VehicleCount,
		"plate_count":      job.PlateCount,
		"processed_frames": job.ProcessedFrames,
		"error":            nullable(job.Error),
	})
}

func (h *Handler) cancelVideo(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.Videos.Cancel(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": id,
		"status": "cancelled",
	})
}

type streamRequest struct {
	StreamURL   string    `json:"stream_url" binding:"required"`
	Task        anpr.Task `json:"task"`
	ROI         *anpr.ROI `json:"roi"`
	FrameSkip   int       `json:"frame_skip" binding:"gte=0"`
	MaxFrames   int       `json:"max_frames"`
	DurationSec *float64  `json:"duration_sec"`
	Preview     bool      `json:"preview"`
}

func (h *Handler) runStream(c *gin.Context) {
	var payload streamRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if payload.Task == "" {
		payload.Task = anpr.TaskVehicleDetection
	}

	req := service.StreamRequest{
		Source:    payload.StreamURL,
		Task:      payload.Task,
		ROI:       payload.ROI,
		FrameSkip: payload.FrameSkip,
		MaxFrames: payload.MaxFrames,
		Preview:   payload.Preview,
	}
	if payload.DurationSec != nil {
		req.Duration = time.Duration(*payload.DurationSec * float64(time.Second))
	}

	result, err := h.services.Streams.Run(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) inferImage(c *gin.Context) {
	data, err := h.readUpload(c, "file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	task, roi, err := parseTaskAndROI(c.PostForm("task"), c.PostForm("roi"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.services.Images.Detect(c.Request.Context(), data, task, roi)
	if err != nil {
		h.handleError(c, err)
		return
	}

	if c.Query("format") == "png" {
		c.Data(http.StatusOK, "image/png", result.Annotated)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listFrames(c *gin.Context) {
	limit, offset := pageParams(c)
	page, err := h.services.History.Frames(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(page))
}

func (h *Handler) getFrame(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("frame id must be an integer"))
		return
	}

	frame, err := h.services.History.Frame(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(frame))
}

func (h *Handler) listPlates(c *gin.Context) {
	limit, offset := pageParams(c)
	page, err := h.services.History.Plates(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(page))
}

func (h *Handler) listVideos(c *gin.Context) {
	limit, offset := pageParams(c)
	page, err := h.services.History.Videos(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(page))
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.services.History.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(stats))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, media.ErrOpen):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, vision.ErrDecode):
		c.JSON(http.StatusUnprocessableEntity, errorResponse(err.Error()))
	case errors.Is(err, storage.ErrUpload):
		h.log.Error().Err(err).Msg("storage upload failed")
		c.JSON(http.StatusBadGateway, errorResponse("storage upload failed"))
	case errors.Is(err, service.ErrUnavailable):
		h.log.Warn().Err(err).Msg("job store unavailable")
		c.JSON(http.StatusServiceUnavailable, errorResponse("job store unavailable, retry later"))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func (h *Handler) readUpload(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s is required", field)
	}
	if limit := h.config.Server.MaxUploadMB; limit > 0 && fh.Size > limit<<20 {
		return nil, fmt.Errorf("%s exceeds %d MB", field, limit)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", field, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", field)
	}
	return data, nil
}

// parseTaskAndROI reads the form fields shared by the upload endpoints. An
// empty task means vehicle detection.
func parseTaskAndROI(rawTask, rawROI string) (anpr.Task, *anpr.ROI, error) {
	task := anpr.Task(strings.TrimSpace(rawTask))
	if task == "" {
		task = anpr.TaskVehicleDetection
	}

	rawROI = strings.TrimSpace(rawROI)
	if rawROI == "" || rawROI == "null" {
		return task, nil, nil
	}
	var roi anpr.ROI
	if err := json.Unmarshal([]byte(rawROI), &roi); err != nil {
		return "", nil, fmt.Errorf("roi must be a JSON object with x1, y1, x2, y2: %v", err)
	}
	return task, &roi, nil
}

func pageParams(c *gin.Context) (int, int) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
