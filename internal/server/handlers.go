package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/services/redaction"
)

func (s *Server) Submit(c *gin.Context) {
	if limit := s.bodyLimit(); limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.renderError(c, common.NewAppError(common.CodeInvalidInput, "request body too large", common.ErrTooLarge))
			return
		}
		s.renderError(c, common.InvalidArgumentError("expected a multipart form with one or more files"))
		return
	}
	headers := form.File["files"]
	uploads := make([]redaction.Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, multipartUpload(fh))
	}

	id, err := s.svc.Submit(c.Request.Context(), uploads)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": id, "status": "queued"})
}

// bodyLimit allows every file at its maximum size plus room for multipart framing.
func (s *Server) bodyLimit() int64 {
	if s.opts.MaxUploadBytes <= 0 || s.opts.MaxFiles <= 0 {
		return 0
	}
	return s.opts.MaxUploadBytes*int64(s.opts.MaxFiles) + 1<<20
}

func multipartUpload(fh *multipart.FileHeader) redaction.Upload {
	return redaction.Upload{
		Filename: fh.Filename,
		Size:     fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func (s *Server) Check(c *gin.Context) {
	id, ok := s.batchID(c)
	if !ok {
		return
	}
	status, err := s.svc.Status(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) Result(c *gin.Context) {
	id, ok := s.batchID(c)
	if !ok {
		return
	}
	stream, name, err := s.svc.Result(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	c.Header("Content-Length", fmt.Sprintf("%d", stream.Size()))
	c.Header("Content-Type", "application/zip")
	c.Status(http.StatusOK)
	c.Stream(func(w io.Writer) bool {
		chunk, more := stream.Next()
		if !more {
			return false
		}
		if _, err := w.Write(chunk); err != nil {
			s.logger.Warn("result stream aborted", "batch_id", id, "error", err)
			return false
		}
		return true
	})
}

func (s *Server) Files(c *gin.Context) {
	id, ok := s.batchID(c)
	if !ok {
		return
	}
	detail, err := s.svc.Detail(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) Report(c *gin.Context) {
	id, ok := s.batchID(c)
	if !ok {
		return
	}
	data, err := s.export.BatchReportXLSX(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=batch_%s.xlsx", id))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *Server) Drop(c *gin.Context) {
	id, ok := s.batchID(c)
	if !ok {
		return
	}
	if err := s.svc.Delete(c.Request.Context(), id); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Batch %s deleted", id)})
}

func (s *Server) Healthz(c *gin.Context) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) batchID(c *gin.Context) (uuid.UUID, bool) {
	id, err := common.ParseUUID("batch_id", c.Param("batch_id"))
	if err != nil {
		s.renderError(c, err)
		return uuid.Nil, false
	}
	c.Request = c.Request.WithContext(common.WithBatchID(c.Request.Context(), id.String()))
	return id, true
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := common.HTTPStatus(err)
	log := common.LoggerFrom(c.Request.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	} else {
		log.Debug("request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": common.PublicMessage(err)})
}
