package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/review"
	"github.com/tphakala/ecosort/internal/session"
)

const defaultListLimit = 50

// SectionResponse lists the reviewed items filed under one label group.
type SectionResponse struct {
	Name  string         `json:"name"`
	Items []ItemResponse `json:"items"`
}

// SectionsResponse is the review overview of a session.
type SectionsResponse struct {
	Sections   []SectionResponse `json:"sections"`
	Unreviewed []ItemResponse    `json:"unreviewed"`
}

// ReviewResponse is returned by accept and reject.
type ReviewResponse struct {
	Item  ItemResponse  `json:"item"`
	Stats StatsResponse `json:"stats"`
}

func (s *Server) isRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// listSessions handles GET /api/v1/sessions.
func (s *Server) listSessions(c echo.Context) error {
	filter := datastore.Filter{
		State:     datastore.SessionState(c.QueryParam("state")),
		Mode:      datastore.ProcessingMode(c.QueryParam("mode")),
		MediaKind: datastore.MediaKind(c.QueryParam("kind")),
		Limit:     defaultListLimit,
		SkipBlobs: true,
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return s.HandleError(c, err, "limit must be a positive integer", http.StatusBadRequest)
		}
		filter.Limit = limit
	}

	sessions, err := s.store.Fetch(c.Request().Context(), filter)
	if err != nil {
		return s.HandleError(c, err, "failed to list sessions", statusFor(err))
	}
	out := make([]SessionSummary, 0, len(sessions))
	for i := range sessions {
		out = append(out, summaryOf(&sessions[i], s.isRunning(sessions[i].ID)))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) fetch(c echo.Context) (*datastore.Session, error) {
	return s.store.FetchByID(c.Request().Context(), c.Param("id"))
}

// getSession handles GET /api/v1/sessions/:id.
func (s *Server) getSession(c echo.Context) error {
	sess, err := s.fetch(c)
	if err != nil {
		return s.HandleError(c, err, "failed to load session", statusFor(err))
	}
	return c.JSON(http.StatusOK, detailOf(sess, s.isRunning(sess.ID)))
}

// deleteSession handles DELETE /api/v1/sessions/:id.
func (s *Server) deleteSession(c echo.Context) error {
	id := c.Param("id")
	if s.isRunning(id) {
		return s.HandleError(c, nil, "session is being classified", http.StatusConflict)
	}
	if err := s.store.Delete(c.Request().Context(), id); err != nil {
		return s.HandleError(c, err, "failed to delete session", statusFor(err))
	}
	GetLogger().Info("session deleted", logger.String("session_id", id))
	return c.NoContent(http.StatusNoContent)
}

// resumeSession handles POST /api/v1/sessions/:id/resume. Classification
// continues in the background; poll the session for progress.
func (s *Server) resumeSession(c echo.Context) error {
	if s.pipelines == nil {
		return s.HandleError(c, nil, "classification is not configured", http.StatusNotImplemented)
	}
	sess, err := s.fetch(c)
	if err != nil {
		return s.HandleError(c, err, "failed to load session", statusFor(err))
	}
	if sess.State == datastore.StateDone {
		return c.JSON(http.StatusOK, summaryOf(sess, false))
	}

	p := s.pipelines()
	s.mu.Lock()
	if _, ok := s.running[sess.ID]; ok {
		s.mu.Unlock()
		return s.HandleError(c, nil, "session is already being classified", http.StatusConflict)
	}
	s.running[sess.ID] = p
	s.mu.Unlock()

	s.wg.Go(func() { s.runResume(p, sess.ID) })
	return c.JSON(http.StatusAccepted, summaryOf(sess, true))
}

func (s *Server) runResume(p *session.Pipeline, id string) {
	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	out, err := p.Resume(s.ctx, id)
	if err != nil {
		GetLogger().Warn("resume failed", logger.String("session_id", id), logger.Error(err))
		return
	}
	GetLogger().Info("resume finished",
		logger.String("session_id", id),
		logger.String("status", out.Status()),
		logger.Int("classified", out.Classified),
		logger.Int("failed", len(out.Failures)))
}

// cancelSession handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelSession(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	p, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return s.HandleError(c, nil, "session is not being classified", http.StatusConflict)
	}
	p.Cancel()
	return c.NoContent(http.StatusAccepted)
}

// getSections handles GET /api/v1/sessions/:id/sections.
func (s *Server) getSections(c echo.Context) error {
	sess, err := s.fetch(c)
	if err != nil {
		return s.HandleError(c, err, "failed to load session", statusFor(err))
	}

	groups := review.GroupBySection(sess)
	resp := SectionsResponse{Sections: make([]SectionResponse, 0), Unreviewed: make([]ItemResponse, 0)}
	for _, name := range review.SectionNames(sess) {
		section := SectionResponse{Name: name, Items: make([]ItemResponse, 0, len(groups[name]))}
		for _, it := range groups[name] {
			section.Items = append(section.Items, itemOf(it))
		}
		resp.Sections = append(resp.Sections, section)
	}
	for _, it := range review.Unreviewed(sess) {
		resp.Unreviewed = append(resp.Unreviewed, itemOf(it))
	}
	return c.JSON(http.StatusOK, resp)
}

// getStats handles GET /api/v1/sessions/:id/stats.
func (s *Server) getStats(c echo.Context) error {
	sess, err := s.fetch(c)
	if err != nil {
		return s.HandleError(c, err, "failed to load session", statusFor(err))
	}
	return c.JSON(http.StatusOK, statsOf(sess))
}

// acceptItem handles POST /api/v1/sessions/:id/items/:item/accept.
func (s *Server) acceptItem(c echo.Context) error {
	sess, err := s.reconciler.Accept(c.Request().Context(), c.Param("id"), c.Param("item"))
	if err != nil {
		return s.HandleError(c, err, "failed to accept prediction", statusFor(err))
	}
	return s.reviewed(c, sess)
}

// rejectItem handles POST /api/v1/sessions/:id/items/:item/reject.
func (s *Server) rejectItem(c echo.Context) error {
	var req RejectRequest
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, err, "invalid request body", http.StatusBadRequest)
	}
	sess, err := s.reconciler.Reject(c.Request().Context(), c.Param("id"), c.Param("item"), req.LabelID)
	if err != nil {
		return s.HandleError(c, err, "failed to reject prediction", statusFor(err))
	}
	return s.reviewed(c, sess)
}

func (s *Server) reviewed(c echo.Context, sess *datastore.Session) error {
	it := sess.Item(c.Param("item"))
	if it == nil {
		return s.HandleError(c, nil, "media item not found", http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, ReviewResponse{Item: itemOf(it), Stats: statsOf(sess)})
}
