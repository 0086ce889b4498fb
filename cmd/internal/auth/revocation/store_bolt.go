package revocation

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	sectoken "arc4de/cmd/security/token"
)

var boltBucket = []byte("refresh_tokens")

// Bolt is a Store persisted in a single bbolt file. Keys are digests of the
// jti, values are the expiry as big-endian unix seconds (0 for none).
type Bolt struct {
	db     *bbolt.DB
	digest sectoken.Digester
	now    func() time.Time

	mu      sync.Mutex
	pending int
}

// OpenBolt opens (or creates) the store at path and prunes expired entries.
func OpenBolt(path string, digest sectoken.Digester) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s := &Bolt{db: db, digest: digest, now: time.Now}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	if _, err := s.Prune(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Bolt) Close() error { return s.db.Close() }

func (s *Bolt) Activate(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return ErrInvalidInput
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put(s.key(jti), encodeExpiry(expiresAt))
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pending++
	due := s.pending >= pruneEvery
	if due {
		s.pending = 0
	}
	s.mu.Unlock()
	if due {
		_, _ = s.Prune(ctx)
	}
	return nil
}

func (s *Bolt) IsActive(_ context.Context, jti string) (bool, error) {
	var active bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(s.key(jti))
		active = v != nil && !expired(decodeExpiry(v), s.now())
		return nil
	})
	return active, err
}

func (s *Bolt) Revoke(_ context.Context, jti string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(s.key(jti))
	})
}

// Rotate runs in one read-write transaction; bbolt serializes writers, so
// racing rotations of the same jti see each other's effects.
func (s *Bolt) Rotate(_ context.Context, oldJTI, newJTI string, newExpiresAt time.Time) error {
	if oldJTI == "" || newJTI == "" {
		return ErrInvalidInput
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		oldKey := s.key(oldJTI)
		v := b.Get(oldKey)
		if v == nil || expired(decodeExpiry(v), s.now()) {
			return ErrNotActive
		}
		if err := b.Delete(oldKey); err != nil {
			return err
		}
		return b.Put(s.key(newJTI), encodeExpiry(newExpiresAt))
	})
}

// Prune deletes expired entries and reports how many were removed.
func (s *Bolt) Prune(_ context.Context) (int, error) {
	now := s.now()
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		var dead [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if expired(decodeExpiry(v), now) {
				dead = append(dead, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range dead {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(dead)
		return nil
	})
	return removed, err
}

func (s *Bolt) key(jti string) []byte { return []byte(s.digest.Digest(jti)) }

func encodeExpiry(t time.Time) []byte {
	buf := make([]byte, 8)
	if !t.IsZero() {
		binary.BigEndian.PutUint64(buf, uint64(t.Unix()))
	}
	return buf
}

func decodeExpiry(v []byte) time.Time {
	if len(v) != 8 {
		return time.Time{}
	}
	sec := binary.BigEndian.Uint64(v)
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0)
}
