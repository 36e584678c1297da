// model.go defines the session data model
package datastore

import (
	"time"
)

// MediaKind tells whether a session was captured from photos or a video.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// ProcessingMode selects the classification engine of a session.
type ProcessingMode string

const (
	ProcessingOnDevice ProcessingMode = "ondevice"
	ProcessingCloud    ProcessingMode = "cloud"
)

// SessionState is the persisted lifecycle state. States only move forward.
type SessionState string

const (
	StatePending    SessionState = "pending"
	StateInProgress SessionState = "in-progress"
	StateDone       SessionState = "done"
)

// rank orders states for forward-only transitions.
func (s SessionState) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateInProgress:
		return 1
	case StateDone:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next keeps the state monotonic.
func (s SessionState) CanAdvanceTo(next SessionState) bool {
	return next.rank() >= 0 && next.rank() >= s.rank()
}

// Session is one classification run. Groups and Items are owned by the session
// and deleted with it.
type Session struct {
	ID             string         `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt      time.Time      `gorm:"index"`
	UpdatedAt      time.Time
	MediaKind      MediaKind      `gorm:"type:varchar(10)"`
	ProcessingMode ProcessingMode `gorm:"type:varchar(10);index"`
	State          SessionState   `gorm:"type:varchar(20);index"`
	VideoPath      string
	VideoDuration  time.Duration
	NumberOfImages int
	ModelVersion   string `gorm:"type:varchar(32)"`

	FinalAccuracy       *float64
	PreliminaryAccuracy *float64
	ReviewCompletion    *float64

	// Remote job bookkeeping. ResultsApplied is the apply-once flag set when a
	// snapshot at or past 100% has been recorded.
	JobID          string `gorm:"type:varchar(64);index"`
	LastProgress   float64
	ResultsApplied bool

	Groups []LabelGroup `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	Items  []MediaItem  `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// LabelGroup is one group of a taxonomy snapshot, e.g. "Glass" within "Almere bins".
type LabelGroup struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	SessionID string `gorm:"type:varchar(36);index;not null"`
	Name      string
	Taxonomy  string // name of the taxonomy the group was copied from
	Position  int
	Classes   []LabelClass `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
}

// LabelClass is one classification outcome of a session taxonomy.
type LabelClass struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	GroupID     string `gorm:"type:varchar(36);index;not null"`
	SessionID   string `gorm:"type:varchar(36);index;not null"`
	Index       int    // model output index
	Name        string `gorm:"index"`
	DisplayName string
	Description string `gorm:"type:text"`
	Position    int
}

// MediaItem is one photo or extracted video frame. PredictedLabelID and
// ActualLabelID reference LabelClass rows of the same session.
type MediaItem struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)"`
	SessionID        string    `gorm:"type:varchar(36);index;not null"`
	Name             string    `gorm:"type:varchar(64);index"`
	Kind             MediaKind `gorm:"type:varchar(10)"`
	Position         int
	Raw              []byte  `gorm:"type:longblob"`
	Preprocessed     []byte  `gorm:"type:longblob"`
	PredictedLabelID *string `gorm:"type:varchar(36)"`
	ActualLabelID    *string `gorm:"type:varchar(36)"`
	FailureReason    string
}

// IsPredictionAccurate reports whether both labels are set and equal.
func (m *MediaItem) IsPredictionAccurate() bool {
	return m.PredictedLabelID != nil && m.ActualLabelID != nil && *m.PredictedLabelID == *m.ActualLabelID
}

// IsReviewed reports whether a human has assigned the actual label.
func (m *MediaItem) IsReviewed() bool {
	return m.ActualLabelID != nil
}

// IsClassified reports whether a predicted label has been assigned.
func (m *MediaItem) IsClassified() bool {
	return m.PredictedLabelID != nil
}

// Classes returns all label classes of the session in taxonomy order.
func (s *Session) Classes() []*LabelClass {
	var out []*LabelClass
	for gi := range s.Groups {
		for ci := range s.Groups[gi].Classes {
			out = append(out, &s.Groups[gi].Classes[ci])
		}
	}
	return out
}

// ClassByID looks up a label class of this session.
func (s *Session) ClassByID(id string) *LabelClass {
	for gi := range s.Groups {
		for ci := range s.Groups[gi].Classes {
			if s.Groups[gi].Classes[ci].ID == id {
				return &s.Groups[gi].Classes[ci]
			}
		}
	}
	return nil
}

// ClassByName returns the first class, in taxonomy order, with the given name.
func (s *Session) ClassByName(name string) *LabelClass {
	for gi := range s.Groups {
		for ci := range s.Groups[gi].Classes {
			if s.Groups[gi].Classes[ci].Name == name {
				return &s.Groups[gi].Classes[ci]
			}
		}
	}
	return nil
}

// GroupOf returns the group that owns the class with the given id.
func (s *Session) GroupOf(classID string) *LabelGroup {
	for gi := range s.Groups {
		for ci := range s.Groups[gi].Classes {
			if s.Groups[gi].Classes[ci].ID == classID {
				return &s.Groups[gi]
			}
		}
	}
	return nil
}

// Item looks up a media item by id.
func (s *Session) Item(id string) *MediaItem {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return &s.Items[i]
		}
	}
	return nil
}

// CopyBlobs fills missing media bytes from src, matching items by id.
func (s *Session) CopyBlobs(src *Session) {
	if src == nil || src == s {
		return
	}
	for i := range s.Items {
		it := &s.Items[i]
		if len(it.Raw) > 0 && len(it.Preprocessed) > 0 {
			continue
		}
		if from := src.Item(it.ID); from != nil {
			if len(it.Raw) == 0 {
				it.Raw = from.Raw
			}
			if len(it.Preprocessed) == 0 {
				it.Preprocessed = from.Preprocessed
			}
		}
	}
}

// Unclassified returns the items that still lack a predicted label, in capture order.
func (s *Session) Unclassified() []*MediaItem {
	var out []*MediaItem
	for i := range s.Items {
		if !s.Items[i].IsClassified() {
			out = append(out, &s.Items[i])
		}
	}
	return out
}

// Validate checks the ownership invariants: every label reference points into
// this session's taxonomy and every child row carries the session id.
func (s *Session) Validate() error {
	if s.ID == "" {
		return newValidationError("session id is empty")
	}
	if s.State.rank() < 0 {
		return newValidationError("unknown session state %q", s.State)
	}
	if s.NumberOfImages != len(s.Items) {
		return newValidationError("session has %d items but numberOfImages is %d", len(s.Items), s.NumberOfImages)
	}
	known := make(map[string]struct{})
	for gi := range s.Groups {
		g := &s.Groups[gi]
		if g.SessionID != s.ID {
			return newValidationError("group %s belongs to session %s", g.ID, g.SessionID)
		}
		for ci := range g.Classes {
			c := &g.Classes[ci]
			if c.SessionID != s.ID || c.GroupID != g.ID {
				return newValidationError("class %s is not owned by group %s", c.ID, g.ID)
			}
			known[c.ID] = struct{}{}
		}
	}
	for i := range s.Items {
		it := &s.Items[i]
		if it.SessionID != s.ID {
			return newValidationError("item %s belongs to session %s", it.ID, it.SessionID)
		}
		for _, ref := range []*string{it.PredictedLabelID, it.ActualLabelID} {
			if ref == nil {
				continue
			}
			if _, ok := known[*ref]; !ok {
				return newValidationError("item %s references label %s outside the session taxonomy", it.ID, *ref)
			}
		}
	}
	return nil
}
