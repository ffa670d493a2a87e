// Package cache persists last-known-good snapshots of participants and teams
// so the tracker can serve stale data when the backing store is unreachable.
package cache

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/strideclub/tracker/internal/domain"
)

const (
	participantsKey = "participants_cache"
	teamsKey        = "teams_cache"
)

var snapshotBucket = []byte("snapshots")

// Store is a file-backed snapshot cache. It has no ownership semantics: the
// sync core overwrites it on every successful load and reads it only when a
// full load fails.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the cache file.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(key), data)
	})
}

// get reports ok=false when the key is absent or the stored value does not
// parse; a malformed entry behaves exactly like no cache.
func (s *Store) get(key string, out any) bool {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(snapshotBucket).Get([]byte(key)); v != nil {
			data = append(data, v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// PutParticipants overwrites the participant snapshot.
func (s *Store) PutParticipants(participants []domain.Participant) error {
	return s.put(participantsKey, participants)
}

// Participants returns the cached participant snapshot, if one is readable.
func (s *Store) Participants() ([]domain.Participant, bool) {
	var participants []domain.Participant
	if !s.get(participantsKey, &participants) {
		return nil, false
	}
	return participants, true
}

// PutTeams overwrites the team snapshot.
func (s *Store) PutTeams(teams []domain.Team) error {
	return s.put(teamsKey, teams)
}

// Teams returns the cached team snapshot, if one is readable.
func (s *Store) Teams() ([]domain.Team, bool) {
	var teams []domain.Team
	if !s.get(teamsKey, &teams) {
		return nil, false
	}
	return teams, true
}
