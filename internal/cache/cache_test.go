package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/strideclub/tracker/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRoundTrip(t *testing.T) {
	store := openTestStore(t)

	teamID := "t1"
	participants := []domain.Participant{
		{ID: "p1", Name: "Alex", TotalMinutes: 45, Points: 3, TeamID: &teamID},
		{ID: "p2", Name: "Sam", TotalMinutes: 20, Points: 1},
	}
	teams := []domain.Team{{ID: "t1", Name: "Red", Color: "#ff0000"}}

	require.NoError(t, store.PutParticipants(participants))
	require.NoError(t, store.PutTeams(teams))

	gotParticipants, ok := store.Participants()
	require.True(t, ok)
	assert.Equal(t, participants, gotParticipants)

	gotTeams, ok := store.Teams()
	require.True(t, ok)
	assert.Equal(t, teams, gotTeams)
}

func TestMissingKeysReportNoCache(t *testing.T) {
	store := openTestStore(t)

	_, ok := store.Participants()
	assert.False(t, ok)
	_, ok = store.Teams()
	assert.False(t, ok)
}

func TestMalformedValueBehavesAsNoCache(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.PutTeams([]domain.Team{{ID: "t1", Name: "Red"}}))

	err := store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(teamsKey), []byte("{not json"))
	})
	require.NoError(t, err)

	_, ok := store.Teams()
	assert.False(t, ok)
}

func TestOverwriteReplacesSnapshot(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.PutTeams([]domain.Team{{ID: "t1", Name: "Red"}}))
	require.NoError(t, store.PutTeams([]domain.Team{{ID: "t2", Name: "Blue"}}))

	teams, ok := store.Teams()
	require.True(t, ok)
	require.Len(t, teams, 1)
	assert.Equal(t, "t2", teams[0].ID)
}
