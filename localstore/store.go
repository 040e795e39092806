// Package localstore is the durable on-device cache: chats, messages and
// user-profile rows in a single bbolt file. It is the only package that
// touches disk; no network access happens here.
package localstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"
)

const schemaVersion = 1

var (
	bucketMeta     = []byte("meta")
	bucketMessages = []byte("messages")
	bucketOutbox   = []byte("outbox")
	bucketChats    = []byte("chats")
	bucketUsers    = []byte("users")

	keySchemaVersion = []byte("schema_version")

	// Buckets truncated by ClearAll. `meta` survives: clearing data must
	// not drop the schema.
	appBuckets = [][]byte{bucketMessages, bucketOutbox, bucketChats, bucketUsers}
)

// Store owns the bbolt handle exclusively; no other component opens a
// second connection to the same file.
type Store struct {
	mu     sync.Mutex
	path   string
	db     *bolt.DB
	closed bool
}

// Open opens or creates the database file at path and brings the schema
// up to the current version. Safe to call on an already-migrated file.
// Returns *InitError when the file cannot be opened or migrated; the
// caller's recovery path is Destroy(path) (or Store.Reset) and reopen.
func Open(path string) (*Store, error) {
	db, err := open(path)
	if err != nil {
		return nil, &InitError{Path: path, Err: err}
	}
	return &Store{path: path, db: db}, nil
}

func open(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Destroy removes the database file entirely. Recovery path for an Open
// that failed with *InitError.
func Destroy(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// migrate walks the on-disk schema version up to schemaVersion in a
// single write transaction.
func migrate(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}

		var have uint32
		if v := meta.Get(keySchemaVersion); v != nil {
			if len(v) != 4 {
				return fmt.Errorf("corrupt schema version: %d bytes", len(v))
			}
			have = binary.BigEndian.Uint32(v)
		}
		if have > schemaVersion {
			return fmt.Errorf("schema version %d is newer than supported %d", have, schemaVersion)
		}

		for v := have; v < schemaVersion; v++ {
			if err := migrations[v](tx); err != nil {
				return fmt.Errorf("migrate to v%d: %v", v+1, err)
			}
			glog.V(5).Infof("localstore: migrated schema v%d -> v%d", v, v+1)
		}

		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], schemaVersion)
		return meta.Put(keySchemaVersion, buf[:])
	})
}

// migrations[i] migrates schema version i to i+1.
var migrations = []func(tx *bolt.Tx) error{
	migrateV1,
}

func migrateV1(tx *bolt.Tx) error {
	for _, name := range appBuckets {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}

// handle returns the live db or ErrClosed. Deliberately not a
// *WriteError: the public write methods wrap whatever bubbles up, and a
// pre-wrapped error would nest twice.
func (s *Store) handle() (*bolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.Update(fn)
}

func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.View(fn)
}

// Tx exposes the operations that may run inside Transaction.
type Tx struct {
	tx *bolt.Tx
}

// Transaction runs all ops in one write transaction: either every op
// succeeds, or the first error rolls the whole batch back and propagates
// unchanged to the caller.
func (s *Store) Transaction(ctx context.Context, ops ...func(*Tx) error) error {
	return s.update(ctx, func(btx *bolt.Tx) error {
		t := &Tx{tx: btx}
		for _, op := range ops {
			if err := op(t); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearAll truncates all application buckets without touching the schema
// bookkeeping. Used by "log out" / "clear local data" flows.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		for _, name := range appBuckets {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset drops and recreates the database file entirely. Recovery path
// for storage corruption reported at open time.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			glog.Errorf("localstore: close before reset: %v", err)
		}
		s.db = nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &InitError{Path: s.path, Err: err}
	}

	db, err := open(s.path)
	if err != nil {
		return &InitError{Path: s.path, Err: err}
	}
	s.db = db
	s.closed = false
	return nil
}

// Close releases the underlying handle. Calling it again is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// msgKey is `chatId 0x00 msgId`: message ids never contain NUL, chat
// prefix scans stay cheap.
func msgKey(chatId, id string) []byte {
	out := make([]byte, 0, len(chatId)+1+len(id))
	out = append(out, chatId...)
	out = append(out, 0)
	out = append(out, id...)
	return out
}

// outboxKey is `create_time(8B BE) msgId` so a cursor walk yields the
// pending set oldest first.
func outboxKey(createTime int64, id string) []byte {
	out := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(out, uint64(createTime))
	return append(out, id...)
}
