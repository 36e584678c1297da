package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/ecosort/internal/classifier/remote"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/media"
)

// VideoRef points at the video a session was extracted from.
type VideoRef struct {
	Path     string
	Duration time.Duration
}

// CreateSession allocates a pending session with no taxonomy and no media.
// Nothing is persisted.
func CreateSession(kind datastore.MediaKind, mode datastore.ProcessingMode, video *VideoRef) *datastore.Session {
	s := &datastore.Session{
		ID:             uuid.NewString(),
		CreatedAt:      time.Now(),
		MediaKind:      kind,
		ProcessingMode: mode,
		State:          datastore.StatePending,
	}
	if video != nil {
		s.VideoPath = video.Path
		s.VideoDuration = video.Duration
	}
	return s
}

// AttachTaxonomy snapshots group onto s. Every group and class gets a fresh id
// so the session is independent of later catalog changes.
func AttachTaxonomy(s *datastore.Session, group *remote.GroupConfig) error {
	if group == nil {
		return configurationError(ErrConfigurationMissing, "")
	}
	if len(s.Items) > 0 {
		return transitionError("taxonomy must be attached before media")
	}

	groups := make([]datastore.LabelGroup, 0, len(group.Sections))
	for gi, section := range group.Sections {
		g := datastore.LabelGroup{
			ID:        uuid.NewString(),
			SessionID: s.ID,
			Name:      section.Name,
			Taxonomy:  group.Name,
			Position:  gi,
			Classes:   make([]datastore.LabelClass, 0, len(section.Classes)),
		}
		for ci, cls := range section.Classes {
			display := cls.ReadableName
			if display == "" {
				display = remote.DisplayName(cls.Name)
			}
			g.Classes = append(g.Classes, datastore.LabelClass{
				ID:          uuid.NewString(),
				GroupID:     g.ID,
				SessionID:   s.ID,
				Index:       cls.Index,
				Name:        cls.Name,
				DisplayName: display,
				Description: cls.Description,
				Position:    ci,
			})
		}
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		return configurationError(fmt.Errorf("%w: group %q has no sections", ErrConfigurationMissing, group.Name), group.Name)
	}
	s.Groups = groups
	return nil
}

// AttachMedia replaces the media set of s with items in capture order.
func AttachMedia(s *datastore.Session, items []media.Item) error {
	if len(s.Groups) == 0 {
		return transitionError("media attached before taxonomy")
	}
	if len(items) == 0 {
		return errors.New(ErrNoUsableMedia).
			Component("session").
			Category(errors.CategoryValidation).
			Context("session_id", s.ID).
			Build()
	}

	owned := make([]datastore.MediaItem, 0, len(items))
	for i, it := range items {
		id := uuid.NewString()
		owned = append(owned, datastore.MediaItem{
			ID:           id,
			SessionID:    s.ID,
			Name:         id,
			Kind:         s.MediaKind,
			Position:     i,
			Raw:          it.Raw,
			Preprocessed: it.Preprocessed,
		})
	}
	s.Items = owned
	s.NumberOfImages = len(owned)
	return nil
}

// Persist writes s with its taxonomy and media in one transaction.
func Persist(ctx context.Context, store datastore.Interface, s *datastore.Session) error {
	if err := store.Insert(ctx, s); err != nil {
		return persistenceError(err, "insert", s.ID)
	}
	return nil
}
