package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/fmueller/voxpush/internal/format"
	"github.com/fmueller/voxpush/internal/indicator"
	"github.com/fmueller/voxpush/internal/model"
	"github.com/fmueller/voxpush/internal/orchestrator"
)

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/get_config", s.getConfig)
	s.engine.GET("/status", s.status)
	s.engine.GET("/history", s.history)

	s.engine.POST("/set_device", s.setDevice)
	s.engine.POST("/set_model", s.setModel)
	s.engine.POST("/set_format", s.setFormat)
	s.engine.POST("/set_theme", s.setTheme)
	s.engine.POST("/set_auto_paste", s.setAutoPaste)
	s.engine.POST("/format_text", s.formatText)
	s.engine.POST("/transcribe", s.transcribe)
	s.engine.POST("/toggle", s.toggle)
}

type configResponse struct {
	Device           string   `json:"device"`
	Model            string   `json:"model"`
	Models           []string `json:"models"`
	Loaded           bool     `json:"loaded"`
	Format           string   `json:"format"`
	AvailableFormats []string `json:"available_formats"`
	Themes           []string `json:"themes"`
	Theme            string   `json:"theme"`
	AutoPaste        *bool    `json:"auto_paste,omitempty"`
}

type setDeviceRequest struct {
	Device string `json:"device" validate:"required,oneof=cpu cuda"`
}

type setModelRequest struct {
	Model string `json:"model" validate:"required"`
}

type setFormatRequest struct {
	Format string `json:"format" validate:"required"`
}

type setThemeRequest struct {
	Theme string `json:"theme" validate:"required"`
}

type setAutoPasteRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type formatTextRequest struct {
	Text string `json:"text"`
}

func (s *Server) health(c *gin.Context) {
	st := s.state.Models.Status()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "device": st.Selection.Device, "loaded": st.Loaded})
}

func (s *Server) getConfig(c *gin.Context) {
	st := s.state.Models.Status()
	resp := configResponse{
		Device:           st.Selection.Device,
		Model:            st.Selection.Model,
		Models:           s.state.Catalog.Names(),
		Loaded:           st.Loaded,
		Format:           s.state.Formats.Current(),
		AvailableFormats: s.state.Formats.Names(),
		Themes:           s.state.Themes.Names(),
		Theme:            s.state.Themes.Current().Name,
	}
	if resp.Models == nil {
		resp.Models = []string{}
	}
	if s.state.Delivery != nil {
		on := s.state.Delivery.AutoPaste()
		resp.AutoPaste = &on
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) setDevice(c *gin.Context) {
	var req setDeviceRequest
	if !s.bind(c, &req, "Invalid device") {
		return
	}

	changed := s.state.Models.Update(func(sel model.Selection) model.Selection {
		sel.Device = req.Device
		return sel
	})
	if changed {
		s.logger.Info("device selected", zap.String("device", req.Device))
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// setModel only accepts installed registry models. Anything else leaves the
// resident model untouched.
func (s *Server) setModel(c *gin.Context) {
	var req setModelRequest
	if !s.bind(c, &req, "Missing model") {
		return
	}
	if !s.state.Catalog.Has(req.Model) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing model"})
		return
	}

	changed := s.state.Models.Update(func(sel model.Selection) model.Selection {
		sel.Model = req.Model
		return sel
	})
	if changed {
		s.logger.Info("model selected", zap.String("model", req.Model))
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) setFormat(c *gin.Context) {
	var req setFormatRequest
	if !s.bind(c, &req, "Missing format") {
		return
	}
	if err := s.state.Formats.Select(req.Format); err != nil {
		if errors.Is(err, format.ErrInvalidProfile) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown format"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) setTheme(c *gin.Context) {
	var req setThemeRequest
	if !s.bind(c, &req, "Missing theme") {
		return
	}
	if err := s.state.Themes.Select(req.Theme); err != nil {
		if errors.Is(err, indicator.ErrUnknownTheme) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown theme"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "theme": req.Theme})
}

func (s *Server) setAutoPaste(c *gin.Context) {
	if s.state.Delivery == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "delivery not running"})
		return
	}
	var req setAutoPasteRequest
	if !s.bind(c, &req, "Missing enabled") {
		return
	}
	s.state.Delivery.SetAutoPaste(*req.Enabled)
	s.logger.Info("auto paste changed", zap.Bool("enabled", *req.Enabled))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "auto_paste": *req.Enabled})
}

func (s *Server) formatText(c *gin.Context) {
	var req formatTextRequest
	if !s.bind(c, &req, "Invalid JSON body") {
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": s.state.Formats.ApplyCurrent(c.Request.Context(), req.Text)})
}

// transcribe stores the upload in UploadDir and hands it to the transcriber,
// which removes it when done.
func (s *Server) transcribe(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'file'"})
		return
	}

	dir := s.state.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	path := filepath.Join(dir, "upload_"+xid.New().String()+".wav")
	if err := c.SaveUploadedFile(file, path); err != nil {
		_ = os.Remove(path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tr, err := s.state.Transcriber.Transcribe(c.Request.Context(), path)
	if err != nil {
		s.logger.Error("transcription failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"text": tr.Text}
	if tr.SavedPath != "" {
		resp["saved"] = tr.SavedPath
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) toggle(c *gin.Context) {
	if s.state.Toggler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "recorder not running"})
		return
	}
	err := s.state.Toggler.Toggle(c.Request.Context())
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "state": s.state.Toggler.State().String()})
	}
}

func (s *Server) status(c *gin.Context) {
	resp := gin.H{"model": s.state.Models.Status()}
	if s.state.Toggler != nil {
		resp["state"] = s.state.Toggler.State().String()
		if id := s.state.Toggler.CycleID(); id != "" {
			resp["cycle"] = id
		}
	}
	if s.state.Indicator != nil {
		resp["indicator"] = s.state.Indicator.Current().Status.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) history(c *gin.Context) {
	if s.state.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history disabled"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	entries, err := s.state.History.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcripts": entries})
}

// bind decodes the JSON body and validates it. On failure it writes a 400
// with msg and returns false.
func (s *Server) bind(c *gin.Context, req any, msg string) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return false
	}
	if err := s.validate.Struct(req); err != nil {
		s.logger.Debug("request rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return false
	}
	return true
}
