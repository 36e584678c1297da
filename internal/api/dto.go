package api

import (
	"time"

	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/review"
)

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	MediaKind        string    `json:"media_kind"`
	Mode             string    `json:"mode"`
	State            string    `json:"state"`
	Items            int       `json:"items"`
	ModelVersion     string    `json:"model_version,omitempty"`
	ReviewCompletion *float64  `json:"review_completion"`
	FinalAccuracy    *float64  `json:"final_accuracy"`
	Running          bool      `json:"running"`
}

// LabelResponse is a session class.
type LabelResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Group       string `json:"group"`
}

// ItemResponse is a media item without its bytes.
type ItemResponse struct {
	ID            string `json:"id"`
	Position      int    `json:"position"`
	Predicted     string `json:"predicted_label_id,omitempty"`
	Actual        string `json:"actual_label_id,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// SessionDetail is the full view of a session.
type SessionDetail struct {
	SessionSummary
	VideoPath     string          `json:"video_path,omitempty"`
	VideoDuration float64         `json:"video_duration_seconds,omitempty"`
	JobID         string          `json:"job_id,omitempty"`
	Progress      float64         `json:"progress"`
	Labels        []LabelResponse `json:"labels"`
	Items         []ItemResponse  `json:"media"`
}

// StatsResponse carries the review statistics of a session.
type StatsResponse struct {
	Total               int      `json:"total"`
	Reviewed            int      `json:"reviewed"`
	Accurate            int      `json:"accurate"`
	ReviewCompletion    *float64 `json:"review_completion"`
	FinalAccuracy       *float64 `json:"final_accuracy"`
	PreliminaryAccuracy *float64 `json:"preliminary_accuracy"`
	NextUnreviewed      string   `json:"next_unreviewed,omitempty"`
}

// RejectRequest is the body of a reject call.
type RejectRequest struct {
	LabelID string `json:"label_id"`
}

func summaryOf(s *datastore.Session, running bool) SessionSummary {
	return SessionSummary{
		ID:               s.ID,
		CreatedAt:        s.CreatedAt,
		MediaKind:        string(s.MediaKind),
		Mode:             string(s.ProcessingMode),
		State:            string(s.State),
		Items:            len(s.Items),
		ModelVersion:     s.ModelVersion,
		ReviewCompletion: s.ReviewCompletion,
		FinalAccuracy:    s.FinalAccuracy,
		Running:          running,
	}
}

func labelOf(s *datastore.Session, c *datastore.LabelClass) LabelResponse {
	resp := LabelResponse{ID: c.ID, Name: c.Name, DisplayName: c.DisplayName, Description: c.Description}
	if g := s.GroupOf(c.ID); g != nil {
		resp.Group = g.Name
	}
	return resp
}

func itemOf(it *datastore.MediaItem) ItemResponse {
	resp := ItemResponse{ID: it.ID, Position: it.Position, FailureReason: it.FailureReason}
	if it.PredictedLabelID != nil {
		resp.Predicted = *it.PredictedLabelID
	}
	if it.ActualLabelID != nil {
		resp.Actual = *it.ActualLabelID
	}
	return resp
}

func detailOf(s *datastore.Session, running bool) SessionDetail {
	d := SessionDetail{
		SessionSummary: summaryOf(s, running),
		VideoPath:      s.VideoPath,
		VideoDuration:  s.VideoDuration.Seconds(),
		JobID:          s.JobID,
		Progress:       s.LastProgress,
		Labels:         make([]LabelResponse, 0),
		Items:          make([]ItemResponse, 0, len(s.Items)),
	}
	for _, c := range s.Classes() {
		d.Labels = append(d.Labels, labelOf(s, c))
	}
	for i := range s.Items {
		d.Items = append(d.Items, itemOf(&s.Items[i]))
	}
	return d
}

func statsOf(s *datastore.Session) StatsResponse {
	st := review.ComputeStats(s)
	resp := StatsResponse{
		Total:               st.Total,
		Reviewed:            st.Reviewed,
		Accurate:            st.Accurate,
		ReviewCompletion:    st.ReviewCompletion,
		FinalAccuracy:       st.FinalAccuracy,
		PreliminaryAccuracy: st.PreliminaryAccuracy,
	}
	if next := review.NextUnreviewed(s); next != nil {
		resp.NextUnreviewed = next.ID
	}
	return resp
}
