//go:build integration

package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/ecosort/internal/conf"
)

func TestMySQLStoreRoundTrip(t *testing.T) {
	ctx := t.Context()

	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("ecosort"),
		tcmysql.WithUsername("ecosort"),
		tcmysql.WithPassword("ecosort"),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	settings := &conf.Settings{}
	settings.Output.MySQL.Enabled = true
	settings.Output.MySQL.Host = host
	settings.Output.MySQL.Port = port.Port()
	settings.Output.MySQL.Username = "ecosort"
	settings.Output.MySQL.Password = "ecosort"
	settings.Output.MySQL.Database = "ecosort"

	store, ok := New(settings).(*MySQLStore)
	require.True(t, ok)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	s := newTestSession(2)
	require.NoError(t, store.Insert(ctx, s))

	label := s.Groups[0].Classes[0].ID
	_, err = store.Update(ctx, s.ID, func(sess *Session) error {
		sess.State = StateDone
		sess.Items[1].PredictedLabelID = &label
		return nil
	})
	require.NoError(t, err)

	got, err := store.FetchByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, got.State)
	require.NotNil(t, got.Items[1].PredictedLabelID)
	assert.Equal(t, label, *got.Items[1].PredictedLabelID)
	assert.Equal(t, s.Items[0].Raw, got.Items[0].Raw)

	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.FetchByID(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
