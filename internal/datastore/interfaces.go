// interfaces.go: this code defines the interface for the session store
package datastore

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/logger"
)

// Interface abstracts the underlying database implementation.
// Every call is atomic on its own; multi-step mutations of one session must
// go through Update so they commit as a single write.
type Interface interface {
	Open() error
	Close() error
	Insert(ctx context.Context, s *Session) error
	Save(ctx context.Context, s *Session) error
	Fetch(ctx context.Context, filter Filter) ([]Session, error)
	FetchByID(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// Filter narrows Fetch results. Zero values match everything.
type Filter struct {
	State     SessionState
	Mode      ProcessingMode
	MediaKind MediaKind
	Limit     int
	// SkipBlobs omits raw and preprocessed media bytes from loaded items.
	SkipBlobs bool
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB    *gorm.DB
	locks *keyedMutex
}

// New creates a store for the configured backend. It returns nil when no
// backend is enabled.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// performAutoMigration creates or updates the session schema.
func performAutoMigration(db *gorm.DB, dbType string) error {
	start := time.Now()
	if err := db.AutoMigrate(&Session{}, &LabelGroup{}, &LabelClass{}, &MediaItem{}); err != nil {
		return dbError(err, "auto_migrate", "")
	}
	GetLogger().Debug("database migration complete",
		logger.String("db_type", dbType),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// attach installs an opened connection.
func (ds *DataStore) attach(db *gorm.DB) {
	ds.DB = db
	ds.locks = newKeyedMutex()
}

func (ds *DataStore) ready() error {
	if ds.DB == nil || ds.locks == nil {
		return ErrNotInitialized
	}
	return nil
}

// Insert writes a new session with its taxonomy and media in one transaction.
func (ds *DataStore) Insert(ctx context.Context, s *Session) error {
	if err := ds.ready(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}

	unlock := ds.locks.Lock(s.ID)
	defer unlock()

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(s).Error
	})
	if err != nil {
		return dbError(err, "insert_session", s.ID)
	}
	GetLogger().Debug("session inserted",
		logger.String("session_id", s.ID),
		logger.Int("items", len(s.Items)),
		logger.Int("groups", len(s.Groups)))
	return nil
}

// Save writes the mutable fields of a session and its items in one transaction.
// Taxonomy rows are immutable after insert and media bytes are never rewritten.
func (ds *DataStore) Save(ctx context.Context, s *Session) error {
	if err := ds.ready(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}

	unlock := ds.locks.Lock(s.ID)
	defer unlock()

	var invalid error
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored string
		if err := tx.Model(&Session{}).Select("state").Where("id = ?", s.ID).Scan(&stored).Error; err != nil {
			return err
		}
		if prev := SessionState(stored); prev != "" && !prev.CanAdvanceTo(s.State) {
			invalid = newValidationError("session state cannot move from %s to %s", prev, s.State)
			return invalid
		}
		return saveSession(tx, s)
	})
	if invalid != nil {
		return invalid
	}
	if err != nil {
		return dbError(err, "save_session", s.ID)
	}
	return nil
}

// Update loads a session, applies fn and saves the result under the session's
// write lock and inside one transaction. fn returning an error aborts the write.
// Items are loaded without media bytes; the returned session has none either.
func (ds *DataStore) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}

	unlock := ds.locks.Lock(id)
	defer unlock()

	var updated *Session
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := loadSession(tx, id, true)
		if err != nil {
			return err
		}
		prev := s.State
		if err := fn(s); err != nil {
			return err
		}
		if !prev.CanAdvanceTo(s.State) {
			return newValidationError("session state cannot move from %s to %s", prev, s.State)
		}
		if err := s.Validate(); err != nil {
			return err
		}
		if err := saveSession(tx, s); err != nil {
			return dbError(err, "update_session", id)
		}
		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FetchByID loads one session with taxonomy and media in capture order.
func (ds *DataStore) FetchByID(ctx context.Context, id string) (*Session, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}
	return loadSession(ds.DB.WithContext(ctx), id, false)
}

// Fetch lists sessions newest first.
func (ds *DataStore) Fetch(ctx context.Context, filter Filter) ([]Session, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}

	q := preload(ds.DB.WithContext(ctx), filter.SkipBlobs).Order("created_at DESC")
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	if filter.Mode != "" {
		q = q.Where("processing_mode = ?", filter.Mode)
	}
	if filter.MediaKind != "" {
		q = q.Where("media_kind = ?", filter.MediaKind)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var sessions []Session
	if err := q.Find(&sessions).Error; err != nil {
		return nil, dbError(err, "fetch_sessions", "")
	}
	return sessions, nil
}

// Delete removes a session and everything it owns.
func (ds *DataStore) Delete(ctx context.Context, id string) error {
	if err := ds.ready(); err != nil {
		return err
	}

	unlock := ds.locks.Lock(id)
	defer unlock()

	var deleted int64
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&MediaItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&LabelClass{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&LabelGroup{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Session{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return dbError(err, "delete_session", id)
	}
	if deleted == 0 {
		return notFound(id)
	}
	return nil
}

func preload(db *gorm.DB, skipBlobs bool) *gorm.DB {
	return db.
		Preload("Groups", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Groups.Classes", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			if skipBlobs {
				db = db.Omit("raw", "preprocessed")
			}
			return db.Order("position ASC")
		})
}

func loadSession(db *gorm.DB, id string, skipBlobs bool) (*Session, error) {
	var s Session
	err := preload(db, skipBlobs).Where("id = ?", id).First(&s).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, dbError(err, "fetch_session", id)
	}
	return &s, nil
}

func saveSession(tx *gorm.DB, s *Session) error {
	if err := tx.Omit(clause.Associations).Save(s).Error; err != nil {
		return err
	}
	for i := range s.Items {
		it := &s.Items[i]
		err := tx.Model(&MediaItem{}).
			Where("id = ? AND session_id = ?", it.ID, s.ID).
			Updates(map[string]any{
				"predicted_label_id": it.PredictedLabelID,
				"actual_label_id":    it.ActualLabelID,
				"failure_reason":     it.FailureReason,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// keyedMutex gives at most one writer per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
