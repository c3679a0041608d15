package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/media-pipeline/internal/api/dto"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
)

// CreateImageJob handles POST /api/v1/jobs/image
func (h *JobHandler) CreateImageJob(c *gin.Context) {
	h.createJob(c, domain.MediaImage, h.pipeline.EnqueueImageJob)
}

// CreateVideoJob handles POST /api/v1/jobs/video
func (h *JobHandler) CreateVideoJob(c *gin.Context) {
	h.createJob(c, domain.MediaVideo, h.pipeline.EnqueueVideoJob)
}

type enqueueFunc func(ctx context.Context, req pipeline.EnqueueRequest) (pipeline.JobRef, error)

func (h *JobHandler) createJob(c *gin.Context, media domain.MediaType, enqueue enqueueFunc) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	req, err := h.bindJob(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("request body exceeds %d bytes", h.maxUploadBytes),
			})
			return
		}
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	ref, err := enqueue(c.Request.Context(), req.ToEnqueue())
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		h.logger.Error("Failed to enqueue job",
			slog.String("media_type", string(media)),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:         ref.JobID,
		TransactionID: ref.TransactionID,
		Queue:         ref.Queue,
		MediaType:     string(media),
	})
}

// bindJob reads a JSON body, or a multipart form whose "file" part holds the media
func (h *JobHandler) bindJob(c *gin.Context) (dto.CreateJobRequest, error) {
	var req dto.CreateJobRequest

	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		err := c.ShouldBindJSON(&req)
		return req, err
	}

	if err := c.ShouldBind(&req); err != nil {
		return req, err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return req, fmt.Errorf("file part is required: %w", err)
	}
	f, err := fh.Open()
	if err != nil {
		return req, err
	}
	defer f.Close()

	req.Data, err = io.ReadAll(f)
	if err != nil {
		return req, err
	}
	if req.MIMEType == "" {
		req.MIMEType = fh.Header.Get("Content-Type")
	}
	return req, nil
}
