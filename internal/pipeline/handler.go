package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/eleven-am/echolens/internal/artifact"
	"github.com/eleven-am/echolens/internal/session"
	"github.com/eleven-am/echolens/internal/shared"
	"github.com/labstack/echo/v4"
)

const (
	HeaderSessionID   = "X-Session-ID"
	HeaderFrameID     = "X-Frame-ID"
	HeaderDescription = "X-Description"
	HeaderAudioID     = "X-Audio-ID"
)

// Handler serves the upload endpoints. With retainAudio the audio artifact
// outlives the response and is served from /v1/audio/:id until swept.
type Handler struct {
	pipeline    *Pipeline
	sessions    *session.Manager
	artifacts   *artifact.Store
	retainAudio bool
	logger      *slog.Logger
}

func NewHandler(p *Pipeline, sessions *session.Manager, artifacts *artifact.Store, retainAudio bool, logger *slog.Logger) *Handler {
	return &Handler{
		pipeline:    p,
		sessions:    sessions,
		artifacts:   artifacts,
		retainAudio: retainAudio,
		logger:      logger,
	}
}

// RegisterLegacyRoutes keeps the original browser client's endpoint.
func (h *Handler) RegisterLegacyRoutes(e *echo.Echo) {
	e.POST("/upload-image", h.Narrate)
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/narrate", h.Narrate)
	g.GET("/audio/:id", h.GetAudio)
}

func sessionIDFrom(c echo.Context) string {
	if id := c.FormValue("session_id"); id != "" {
		return id
	}
	if id := c.QueryParam("session_id"); id != "" {
		return id
	}
	return c.Request().Header.Get(HeaderSessionID)
}

func (h *Handler) readFrame(c echo.Context) (*Frame, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, shared.NewValidationError("image", "image is required")
	}
	limit := h.pipeline.MaxImageBytes()
	if fh.Size > limit {
		return nil, shared.NewValidationError("image", fmt.Sprintf("image exceeds %d bytes", limit))
	}

	f, err := fh.Open()
	if err != nil {
		return nil, shared.NewValidationError("image", "unreadable upload")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, shared.NewValidationError("image", "unreadable upload")
	}
	return NewFrame(data), nil
}

func (h *Handler) Narrate(c echo.Context) error {
	frame, err := h.readFrame(c)
	if err != nil {
		return err
	}

	sess, created, err := h.sessions.GetOrCreate(sessionIDFrom(c))
	if err != nil {
		return err
	}
	c.Response().Header().Set(HeaderSessionID, sess.ID)
	if created {
		h.logger.Debug("session started by upload", "session_id", sess.ID)
	}

	result, err := h.pipeline.Process(c.Request().Context(), sess, frame)
	if err != nil {
		return err
	}
	if !h.retainAudio {
		defer func() {
			if err := result.Release(); err != nil {
				h.logger.Error("failed to release audio artifact", "frame_id", result.FrameID, "error", err)
			}
		}()
	} else {
		c.Response().Header().Set(HeaderAudioID, result.AudioArtifact.ID)
	}

	header := c.Response().Header()
	header.Set(HeaderFrameID, result.FrameID)
	header.Set(HeaderDescription, url.PathEscape(result.Description))
	return c.Blob(http.StatusOK, result.Audio.ContentType, result.Audio.Data)
}

func (h *Handler) GetAudio(c echo.Context) error {
	if !h.retainAudio {
		return shared.NotFound("audio_not_found", "audio is not retained")
	}

	handle, err := h.artifacts.Lookup(artifact.KindAudio, c.Param("id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("audio_not_found", "audio not found")
		}
		return err
	}
	return c.File(handle.Path)
}
