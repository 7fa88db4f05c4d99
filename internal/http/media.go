package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/bytes"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/dispatcher"
	"github.com/jmehdipour/wadispatch/internal/logger"
)

// MediaUploader stores a file on the WhatsApp media endpoint.
type MediaUploader interface {
	UploadMedia(ctx context.Context, filename, mimeType string, r io.Reader) dispatcher.UploadResult
}

type mediaHandlers struct {
	up      MediaUploader
	maxSize int64
}

// newMediaHandlers parses a size such as "16MB".
func newMediaHandlers(up MediaUploader, maxSize string) (mediaHandlers, error) {
	n, err := bytes.Parse(maxSize)
	if err != nil {
		return mediaHandlers{}, err
	}

	if n <= 0 {
		return mediaHandlers{}, errors.New("media max size must be positive")
	}
	return mediaHandlers{up: up, maxSize: n}, nil
}

func (h mediaHandlers) upload(c echo.Context) error {
	if h.up == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "whatsapp is not configured"})
	}

	// the multipart envelope adds a little on top of the file itself
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, h.maxSize+64<<10)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file is required"})
	}

	if fh.Size > h.maxSize {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error": "file too large, limit is " + bytes.Format(h.maxSize),
		})
	}

	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable file"})
	}
	defer f.Close()

	// an explicit type on the form wins; otherwise the client sniffs one
	mimeType := c.FormValue("type")
	res := h.up.UploadMedia(c.Request().Context(), fh.Filename, mimeType, f)
	if !res.Success {
		logger.Log.Warn("media upload failed",
			zap.String("filename", fh.Filename),
			zap.String("kind", string(res.Kind)),
			zap.String("error", res.ErrorMessage))
		return c.JSON(http.StatusBadGateway, map[string]string{"error": res.ErrorMessage})
	}

	return c.JSON(http.StatusCreated, map[string]string{"media_id": res.MediaID})
}
