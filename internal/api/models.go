package api

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/ecosort/internal/classifier/remote"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/jobqueue"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/modelstore"
)

// ModelResponse describes one model version.
type ModelResponse struct {
	Version   string  `json:"version"`
	Installed bool    `json:"installed"`
	Active    bool    `json:"active"`
	Date      string  `json:"date,omitempty"`
	Size      string  `json:"size,omitempty"`
	Accuracy  string  `json:"accuracy,omitempty"`
	Available bool    `json:"available"`
}

// DownloadResponse reports a queued or running download.
type DownloadResponse struct {
	Version string `json:"version"`
	Status  string `json:"status"`
	Written int64  `json:"written"`
	Total   int64  `json:"total"`
}

// listModels handles GET /api/v1/models. Installed versions are always
// listed; catalog versions are merged in when the catalog is reachable.
func (s *Server) listModels(c echo.Context) error {
	installed, err := s.models.List()
	if err != nil {
		return s.HandleError(c, err, "failed to list installed models", http.StatusInternalServerError)
	}

	active := s.settings.Model.Version
	byVersion := make(map[string]*ModelResponse)
	order := make([]string, 0, len(installed))
	for _, v := range installed {
		byVersion[v] = &ModelResponse{Version: v, Installed: true, Active: v == active}
		order = append(order, v)
	}

	if s.catalog != nil {
		versions, err := s.catalog.Versions(c.Request().Context())
		if err != nil {
			GetLogger().Warn("model catalog unavailable", logger.Error(err))
		}
		for _, mv := range versions {
			m, ok := byVersion[mv.Version]
			if !ok {
				m = &ModelResponse{Version: mv.Version, Active: mv.Version == active}
				byVersion[mv.Version] = m
				order = append(order, mv.Version)
			}
			m.Available = mv.TFLiteURL != ""
			m.Date = mv.Date
			m.Size = mv.TFLiteSize
			m.Accuracy = mv.Accuracy
		}
	}

	out := make([]ModelResponse, 0, len(order))
	for _, v := range order {
		out = append(out, *byVersion[v])
	}
	return c.JSON(http.StatusOK, out)
}

// downloadModel handles POST /api/v1/models/:version/download.
func (s *Server) downloadModel(c echo.Context) error {
	if s.downloader == nil || s.catalog == nil {
		return s.HandleError(c, nil, "model downloads are not configured", http.StatusNotImplemented)
	}
	version := c.Param("version")
	if err := modelstore.ValidateVersion(version); err != nil {
		return s.HandleError(c, err, "invalid model version", http.StatusBadRequest)
	}

	versions, err := s.catalog.Versions(c.Request().Context())
	if err != nil {
		return s.HandleError(c, err, "failed to read model catalog", statusFor(err))
	}
	idx := slices.IndexFunc(versions, func(mv remote.ModelVersion) bool { return mv.Version == version })
	if idx < 0 {
		return s.HandleError(c, nil, "model version not in catalog", http.StatusNotFound)
	}
	mv := versions[idx]

	job, err := s.downloader.Download(modelstore.Request{Version: mv.Version, URL: mv.TFLiteURL, Size: mv.TFLiteBytes()})
	if err != nil {
		return s.HandleError(c, err, "failed to queue model download", statusFor(err))
	}
	return c.JSON(http.StatusAccepted, s.downloadStatus(version, job))
}

// downloadProgress handles GET /api/v1/models/:version/download.
func (s *Server) downloadProgress(c echo.Context) error {
	if s.downloader == nil {
		return s.HandleError(c, nil, "model downloads are not configured", http.StatusNotImplemented)
	}
	version := c.Param("version")
	job, ok := s.downloader.Job(version)
	if !ok {
		return s.HandleError(c, nil, "no download for this version", http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, s.downloadStatus(version, job))
}

// cancelDownload handles DELETE /api/v1/models/:version/download.
func (s *Server) cancelDownload(c echo.Context) error {
	if s.downloader == nil {
		return s.HandleError(c, nil, "model downloads are not configured", http.StatusNotImplemented)
	}
	if err := s.downloader.Cancel(c.Param("version")); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, jobqueue.ErrJobNotFound) {
			code = http.StatusNotFound
		}
		return s.HandleError(c, err, "failed to cancel download", code)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) downloadStatus(version string, job *jobqueue.Job) DownloadResponse {
	resp := DownloadResponse{Version: version, Status: job.Status().String()}
	if p, ok := s.downloader.Progress(version); ok {
		resp.Written = p.Written
		resp.Total = p.Total
	}
	return resp
}
