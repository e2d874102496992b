package syncstate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

var (
	eventBucket = []byte("events")
	userBucket  = []byte("users")
)

// ErrUserNotFound is returned when no sync record exists for an email
var ErrUserNotFound = eris.New("user not found")

// Store tracks how far each webhook event got through the pipeline and
// which platform user belongs to which email address
type Store struct {
	db *bolt.DB
}

// Event stages. An event with no recorded stage has not been processed at
// all; StageLedgered means the sale is in the ledger but the platform sync
// is still outstanding, so a redelivery must retry the sync without
// appending again.
const (
	StageLedgered = "ledgered"
	StageDone     = "done"
)

type eventRecord struct {
	Stage   string    `json:"stage"`
	Updated time.Time `json:"updated"`
}

// UserRecord is the locally cached sync state for one customer
type UserRecord struct {
	PlatformID string    `json:"platform_id"`
	Plan       string    `json:"plan"`
	LastSynced time.Time `json:"last_synced"`
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open state database %s", path)
	}

	buckets := [][]byte{eventBucket, userBucket}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to prepare state buckets")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EventStage returns the recorded stage for the given event id. Events
// that were never seen yield an empty string.
func (s *Store) EventStage(ctx context.Context, id string) (string, error) {
	var record eventRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		item := tx.Bucket(eventBucket).Get([]byte(id))
		if item == nil {
			return nil
		}

		return json.Unmarshal(item, &record)
	})
	if err != nil {
		return "", eris.Wrapf(err, "failed to look up event %s", id)
	}

	return record.Stage, nil
}

// SetEventStage records how far the given event got
func (s *Store) SetEventStage(ctx context.Context, id, stage string) error {
	encoded, err := json.Marshal(eventRecord{
		Stage:   stage,
		Updated: time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "failed to encode event record")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(eventBucket).Put([]byte(id), encoded)
	})
	if err != nil {
		return eris.Wrapf(err, "failed to record event %s", id)
	}
	return nil
}

// PutUser stores the sync state for the given email
func (s *Store) PutUser(ctx context.Context, email string, record UserRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "failed to encode user record")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(userBucket).Put([]byte(email), encoded)
	})
	if err != nil {
		return eris.Wrapf(err, "failed to store user %s", email)
	}
	return nil
}

// GetUser returns the sync state for the given email
func (s *Store) GetUser(ctx context.Context, email string) (UserRecord, error) {
	var record UserRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		item := tx.Bucket(userBucket).Get([]byte(email))
		if item == nil {
			return ErrUserNotFound
		}

		return json.Unmarshal(item, &record)
	})
	if err != nil {
		if eris.Is(err, ErrUserNotFound) {
			return record, err
		}
		return record, eris.Wrapf(err, "failed to load user %s", email)
	}

	return record, nil
}
