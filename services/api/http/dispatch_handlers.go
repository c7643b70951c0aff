package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/dispatch-gateway/services/api/dispatch"
)

// readFields decodes the JSON body, capped at the configured size.
func (s *Server) readFields(c *gin.Context) (dispatch.Fields, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &dispatch.InvalidFieldError{Field: "body", Reason: fmt.Sprintf("larger than %d bytes", tooLarge.Limit)}
		}
		return nil, &dispatch.InvalidFieldError{Field: "body", Reason: "unreadable"}
	}
	return dispatch.DecodeFields(body)
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}

func (s *Server) handlePosition(c *gin.Context) {
	f, err := s.readFields(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	id, err := s.svc.RecordPosition(ctx, f)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"position_id": id,
		"message":     "position recorded",
	})
}

func (s *Server) handleTransmission(c *gin.Context) {
	f, err := s.readFields(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	res, err := s.svc.Transmission(ctx, f)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if res.Action == dispatch.ActionEnd {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "transmission ended",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"transmission_id": res.ID,
		"message":         "transmission started",
	})
}

func (s *Server) handleTextMessage(c *gin.Context) {
	f, err := s.readFields(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	id, err := s.svc.RecordTextMessage(ctx, f)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message_id": id,
		"message":    "message recorded",
	})
}

func (s *Server) handleEmergency(c *gin.Context) {
	f, err := s.readFields(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	id, err := s.svc.RecordEmergency(ctx, f)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"emergency_id": id,
		"message":      "emergency recorded",
	})
}

func (s *Server) handleAudio(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	cfg, err := s.svc.Config(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}

	// The form values and multipart framing get the JSON body allowance on
	// top of the file limit.
	limit := cfg.MaxAudioFileSize + s.cfg.MaxBodyBytes
	upload, fields := s.readAudioUpload(c, limit)
	if upload != nil {
		if errors.Is(upload.Err, dispatch.ErrPayloadTooLarge) {
			abortWithError(c, fmt.Errorf("%w: request body over %d bytes", dispatch.ErrPayloadTooLarge, limit))
			return
		}
		if closer, ok := upload.Body.(io.Closer); ok {
			defer closer.Close()
		}
	}

	rec, err := s.svc.RecordAudio(ctx, fields, upload)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"audio_id":  rec.ID,
		"file_path": rec.FilePath,
		"message":   "audio uploaded",
	})
}

// readAudioUpload extracts the "audio" file part and the form values, reading
// at most limit bytes of body. A request without the part yields a nil upload;
// any other multipart failure is carried in AudioUpload.Err, with an
// oversized body reported as ErrPayloadTooLarge.
func (s *Server) readAudioUpload(c *gin.Context, limit int64) (*dispatch.AudioUpload, dispatch.Fields) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	header, err := c.FormFile("audio")

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &dispatch.AudioUpload{Err: dispatch.ErrPayloadTooLarge}, nil
	}

	var fields dispatch.Fields
	if form := c.Request.MultipartForm; form != nil {
		fields = dispatch.FormFields(form.Value)
	} else {
		fields = dispatch.FormFields(c.Request.PostForm)
	}

	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return nil, fields
	case err != nil:
		return &dispatch.AudioUpload{Err: err}, fields
	}

	file, err := header.Open()
	if err != nil {
		return &dispatch.AudioUpload{Name: header.Filename, Size: header.Size, Err: err}, fields
	}
	return &dispatch.AudioUpload{
		Name: header.Filename,
		Size: header.Size,
		Body: file,
	}, fields
}

func (s *Server) handleEvent(c *gin.Context) {
	f, err := s.readFields(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	id, err := s.svc.RecordEvent(ctx, f)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"event_id": id,
		"message":  "event recorded",
	})
}

func (s *Server) handleConfig(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	cfg, err := s.svc.Config(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"config":  cfg.Public(),
	})
}
