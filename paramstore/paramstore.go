// Package paramstore persists tuned PID gains and a tuned flag across
// power cycles, committed atomically so a partial save is never
// observable on next load. The on-disk backend is go.etcd.io/bbolt.
package paramstore

import (
	"encoding/binary"
	"errors"
	"math"

	"go.etcd.io/bbolt"

	"go.pumpworks.dev/fillcore/pid"
)

// ErrNotFound is returned by Load when no parameters have ever been
// committed.
var ErrNotFound = errors.New("paramstore: not found")

// Defaults are installed by callers when Load returns ErrNotFound.
var Defaults = PidParams{Gains: pid.Gains{Kp: 2.5, Ki: 0.5, Kd: 0.1}, Tuned: false}

// PidParams is the persisted record.
type PidParams struct {
	Gains pid.Gains
	Tuned bool
}

// Store is the Parameter Store contract.
type Store interface {
	Load() (PidParams, error)
	Save(p PidParams) error
}

var (
	bucketName = []byte("pid_params")
	keyKp      = []byte("kp")
	keyKi      = []byte("ki")
	keyKd      = []byte("kd")
	keyTuned   = []byte("tuned")
)

// BoltStore persists PidParams in a bbolt database file.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt database at path and
// ensures the parameter bucket exists.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load returns the persisted gains and tuned flag, or ErrNotFound if
// nothing has ever been committed.
func (s *BoltStore) Load() (PidParams, error) {
	var out PidParams
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		kp := b.Get(keyKp)
		ki := b.Get(keyKi)
		kd := b.Get(keyKd)
		tuned := b.Get(keyTuned)
		if kp == nil || ki == nil || kd == nil {
			return nil
		}
		found = true
		out.Gains.Kp = decodeFloat32(kp)
		out.Gains.Ki = decodeFloat32(ki)
		out.Gains.Kd = decodeFloat32(kd)
		out.Tuned = len(tuned) == 1 && tuned[0] == 1
		return nil
	})
	if err != nil {
		return PidParams{}, err
	}
	if !found {
		return PidParams{}, ErrNotFound
	}
	return out, nil
}

// Save atomically commits all four fields: bbolt's Update runs in a
// single transaction, so a partial save is never observable by a
// concurrent Load.
func (s *BoltStore) Save(p PidParams) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if err := b.Put(keyKp, encodeFloat32(p.Gains.Kp)); err != nil {
			return err
		}
		if err := b.Put(keyKi, encodeFloat32(p.Gains.Ki)); err != nil {
			return err
		}
		if err := b.Put(keyKd, encodeFloat32(p.Gains.Kd)); err != nil {
			return err
		}
		tunedByte := byte(0)
		if p.Tuned {
			tunedByte = 1
		}
		return b.Put(keyTuned, []byte{tunedByte})
	})
}

func encodeFloat32(f float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
	return buf
}

func decodeFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// LoadOrDefaults never fails the boot: a store with nothing committed,
// or a load error, yields Defaults.
func LoadOrDefaults(s Store) PidParams {
	p, err := s.Load()
	if errors.Is(err, ErrNotFound) {
		return Defaults
	}
	if err != nil {
		return Defaults
	}
	return p
}
