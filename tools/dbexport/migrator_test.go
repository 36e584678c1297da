package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/datastore"
)

func openSQLite(t *testing.T, name string) datastore.Interface {
	t.Helper()
	s := &conf.Settings{}
	s.Output.SQLite = conf.SQLiteSettings{Enabled: true, Path: filepath.Join(t.TempDir(), name)}
	store := datastore.New(s)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertSession(t *testing.T, store datastore.Interface, items int) *datastore.Session {
	t.Helper()
	id, groupID, classID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	s := &datastore.Session{
		ID:             id,
		CreatedAt:      time.Now(),
		MediaKind:      datastore.MediaKindImage,
		ProcessingMode: datastore.ProcessingCloud,
		State:          datastore.StateDone,
		NumberOfImages: items,
		Groups: []datastore.LabelGroup{{ID: groupID, SessionID: id, Name: "Glass", Classes: []datastore.LabelClass{
			{ID: classID, GroupID: groupID, SessionID: id, Name: "glass"},
		}}},
	}
	for i := range items {
		label := classID
		itemID := uuid.NewString()
		s.Items = append(s.Items, datastore.MediaItem{
			ID: itemID, Name: itemID, SessionID: id, Kind: datastore.MediaKindImage,
			Position: i, Raw: []byte{0xff, 0xd8, byte(i)}, PredictedLabelID: &label,
		})
	}
	require.NoError(t, store.Insert(t.Context(), s))
	return s
}

func TestMigratorCopiesAndSkips(t *testing.T) {
	source := openSQLite(t, "source.db")
	target := openSQLite(t, "target.db")
	a := insertSession(t, source, 2)
	insertSession(t, source, 3)

	var out bytes.Buffer
	stats, err := NewMigrator(source, target, true, &out).Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 5, stats.Items)
	assert.Zero(t, stats.Skipped)
	assert.Contains(t, out.String(), "copied "+a.ID)
	require.NoError(t, Verify(t.Context(), source, target, stats.IDs))

	// A second run finds everything in place.
	stats, err = NewMigrator(source, target, false, &out).Run(t.Context())
	require.NoError(t, err)
	assert.Zero(t, stats.Sessions)
	assert.Equal(t, 2, stats.Skipped)
}

func TestVerifyDetectsDifferences(t *testing.T) {
	source := openSQLite(t, "source.db")
	target := openSQLite(t, "target.db")
	s := insertSession(t, source, 2)

	stats, err := NewMigrator(source, target, false, &bytes.Buffer{}).Run(t.Context())
	require.NoError(t, err)

	label := s.Groups[0].Classes[0].ID
	_, err = target.Update(t.Context(), s.ID, func(got *datastore.Session) error {
		got.Items[1].ActualLabelID = &label
		return nil
	})
	require.NoError(t, err)

	err = Verify(t.Context(), source, target, stats.IDs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actual label differs")
}

func TestConfigSanitizedTarget(t *testing.T) {
	cfg := Config{MySQL: conf.MySQLSettings{Username: "ecosort", Password: "hunter2", Host: "db", Port: "3306", Database: "sessions"}}
	assert.Equal(t, "ecosort:****@tcp(db:3306)/sessions", cfg.SanitizedTarget())
	assert.True(t, cfg.TargetSettings().Output.MySQL.Enabled)
	assert.False(t, cfg.TargetSettings().Output.SQLite.Enabled)
}
