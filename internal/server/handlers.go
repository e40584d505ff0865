package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"

	"github.com/cwbudde/algo-karaoke/internal/stems"
)

const formField = "audio_file"

type rootResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

type healthResponse struct {
	Status          string `json:"status"`
	DemucsAvailable bool   `json:"demucs_available"`
	GPUAvailable    bool   `json:"gpu_available"`
	Model           string `json:"model"`
}

type modelsResponse struct {
	AvailableModels []string `json:"available_models"`
	CurrentModel    string   `json:"current_model"`
}

func (a *App) root(c echo.Context) error {
	return c.JSON(http.StatusOK, rootResponse{
		Service: ServiceName,
		Version: ServiceVersion,
		Endpoints: map[string]string{
			"POST /separate": "Separate audio stems",
			"GET /health":    "Health check",
			"GET /models":    "List available models",
			"GET /metrics":   "Prometheus metrics",
		},
	})
}

// health always answers 200; the body carries the verdict.
func (a *App) health(c echo.Context) error {
	h := a.sep.Health(c.Request().Context())

	return c.JSON(http.StatusOK, healthResponse{
		Status:          h.Status(),
		DemucsAvailable: h.DemucsAvailable,
		GPUAvailable:    h.GPUAvailable,
		Model:           h.Model,
	})
}

func (a *App) models(c echo.Context) error {
	return c.JSON(http.StatusOK, modelsResponse{
		AvailableModels: a.sep.Models(),
		CurrentModel:    a.sep.Model(),
	})
}

func (a *App) separate(c echo.Context) error {
	file, err := c.FormFile(formField)
	if err != nil || file.Filename == "" {
		return detail(c, http.StatusBadRequest, "No file provided")
	}

	req := stems.Request{
		ID:       c.Response().Header().Get(echo.HeaderXRequestID),
		Filename: file.Filename,
		Model:    strings.TrimSpace(c.FormValue("model")),
	}

	if v := strings.TrimSpace(c.FormValue("format")); v != "" {
		req.Format = stems.Format(strings.ToLower(v))
	}

	if v := strings.TrimSpace(c.FormValue("bitrate")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return detail(c, http.StatusBadRequest, "Invalid bitrate: "+v)
		}

		req.Bitrate = n
	}

	src, err := file.Open()
	if err != nil {
		return detail(c, http.StatusBadRequest, "Unreadable upload")
	}
	defer src.Close()

	req.Audio = src

	archive, err := a.sep.Separate(c.Request().Context(), req)
	if err != nil {
		return err
	}

	defer func() {
		if err := archive.Close(); err != nil {
			log.WithError(err).WithField("request", req.ID).Warn("Failed to remove work dir")
		}
	}()

	return c.Attachment(archive.Path, archive.Name)
}
