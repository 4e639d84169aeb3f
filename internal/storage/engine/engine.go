// Package engine implements the storage facade spec.md §4.4 describes,
// backed by go.etcd.io/bbolt in place of the RocksDB engine the original
// deployment uses — bbolt gives the same ordered-byte-key B+tree, ACID
// single-writer transaction, and MVCC snapshot-read semantics spec.md's
// operations assume, grounded on the embedded-BoltDB facade pattern shown
// in the cuemby-warren storage package retrieved alongside this spec
// (buckets-as-categories, db.View/db.Update, tx.CopyFile backups).
package engine

import (
	"bytes"
	"encoding/gob"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/nsblast/nsblast/internal/metrics"
	"github.com/nsblast/nsblast/internal/replication/rpc"
	"github.com/nsblast/nsblast/internal/storage/key"
	"github.com/nsblast/nsblast/internal/support/task"
	"github.com/nsblast/nsblast/internal/xlog"
)

// Category is a top-level bucket partitioning the keyspace, per spec.md
// §4.4's "categories" (RocksDB column families in the original design).
type Category string

const (
	CategoryDefault    Category = "default"
	CategoryMasterZone Category = "masterZone"
	CategoryEntry      Category = "entry"
	CategoryDiff       Category = "diff"
	CategoryAccount    Category = "account"
	CategoryTrxLog     Category = "trxlog"
)

var allCategories = []Category{
	CategoryDefault, CategoryMasterZone, CategoryEntry,
	CategoryDiff, CategoryAccount, CategoryTrxLog,
}

// CommitHook receives one ZoneUpdate per CategoryEntry mutation made
// inside a transaction, right after Commit assigns that transaction's
// trxid — spec.md §4.9's live replication fan-out. storage/engine itself
// never imports package replication (which imports storage/engine), so
// the hook is expressed in terms of the dependency-free replication/rpc
// wire types and wired up by whoever constructs both (internal/server).
type CommitHook func(*rpc.ZoneUpdate)

// Engine owns the database file and assigns monotonic transaction ids.
type Engine struct {
	db *bolt.DB

	nextTrxID  uint64
	backupFlag int32 // 0 = idle, 1 = backup in progress (try-lock, spec.md's single-backup-at-a-time rule)
	backupMu   sync.Mutex

	hookMu     sync.RWMutex
	commitHook CommitHook
}

// SetCommitHook installs (or, passed nil, removes) the hook invoked after
// each commit that mutated CategoryEntry. Intended to be called once at
// startup to wire a replication Hub's Publish method through.
func (e *Engine) SetCommitHook(hook CommitHook) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.commitHook = hook
}

// Open opens (creating if absent) the database file at path and ensures
// every category bucket exists, then recovers the next transaction id as
// one past the largest id already recorded in TRXLOG (spec.md §4.4:
// "trxid is monotonic across restarts").
func Open(path string) (*Engine, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, xlog.New("open storage engine").Base(err).WithKind(xlog.KindInternal)
	}
	e := &Engine{db: db}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, c := range allCategories {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, xlog.New("initialize storage buckets").Base(err).WithKind(xlog.KindInternal)
	}

	if err := e.recoverNextTrxID(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) recoverNextTrxID() error {
	return e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CategoryTrxLog))
		c := b.Cursor()
		k, _ := c.Last()
		if k == nil {
			e.nextTrxID = 1
			return nil
		}
		id, err := key.DecodeTrxID(k)
		if err != nil {
			return err
		}
		e.nextTrxID = id + 1
		return nil
	})
}

// Close closes the underlying database file.
func (e *Engine) Close() error { return e.db.Close() }

// Txn is a single atomic, multi-key transaction spanning every category
// (spec.md §4.4's "atomic multi-key transactions").
type Txn struct {
	tx       *bolt.Tx
	engine   *Engine
	writable bool
	trxID    uint64
	mutatedEntry bool
	pending      []*rpc.ZoneUpdate
}

// Begin starts a transaction. Writable transactions serialize against each
// other (bbolt's single-writer model); read transactions see a consistent
// MVCC snapshot and never block a concurrent writer.
func (e *Engine) Begin(writable bool) (*Txn, error) {
	tx, err := e.db.Begin(writable)
	if err != nil {
		return nil, xlog.New("begin transaction").Base(err).WithKind(xlog.KindInternal)
	}
	return &Txn{tx: tx, engine: e, writable: writable}, nil
}

func (t *Txn) bucket(cat Category) *bolt.Bucket { return t.tx.Bucket([]byte(cat)) }

// Put writes k=v in the given category. When isNew is true and k already
// exists, Put fails with KindAlreadyExists instead of overwriting it
// (spec.md §4.4's `write(key, value, is_new, category)` contract) — every
// creation path routes through isNew=true; legitimate overwrites (zone
// updates, AXFR/IXFR resync, replication apply) pass isNew=false.
func (t *Txn) Put(cat Category, k, v []byte, isNew bool) error {
	b := t.bucket(cat)
	if isNew && b.Get(k) != nil {
		return xlog.New("key already exists").WithKind(xlog.KindAlreadyExists)
	}
	if err := b.Put(k, v); err != nil {
		return xlog.New("put").Base(err).WithKind(xlog.KindInternal)
	}
	if cat == CategoryEntry {
		t.mutatedEntry = true
		t.pending = append(t.pending, &rpc.ZoneUpdate{
			Op:       rpc.OpPut,
			Category: string(cat),
			Key:      bytes.Clone(k),
			Value:    bytes.Clone(v),
		})
	}
	return nil
}

// Get reads the value for k in the given category. The returned slice is
// only valid until Commit/Rollback (bbolt's mmap-page lifetime rule) —
// callers that retain it past the transaction boundary must copy it.
func (t *Txn) Get(cat Category, k []byte) ([]byte, bool, error) {
	v := t.bucket(cat).Get(k)
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// Exists reports whether k is present in the given category.
func (t *Txn) Exists(cat Category, k []byte) (bool, error) {
	_, ok, err := t.Get(cat, k)
	return ok, err
}

// Delete removes k from the given category. Deleting an absent key is not
// an error (spec.md §4.4's idempotent-delete requirement).
func (t *Txn) Delete(cat Category, k []byte) error {
	if err := t.bucket(cat).Delete(k); err != nil {
		return xlog.New("delete").Base(err).WithKind(xlog.KindInternal)
	}
	if cat == CategoryEntry {
		t.mutatedEntry = true
		t.pending = append(t.pending, &rpc.ZoneUpdate{
			Op:       rpc.OpDelete,
			Category: string(cat),
			Key:      bytes.Clone(k),
		})
	}
	return nil
}

// hasKeyPrefix reports whether k belongs to the subtree rooted at prefix,
// per spec.md §4.4's remove() boundary rule: k must share prefix's bytes
// AND the byte immediately following must either be absent (k == prefix
// exactly) or the reversed-label separator '.' (0x2E) — never merely a
// byte-level prefix match, since e.g. EncodeEntry(t,"example.com") ends in
// "...com.example", which would otherwise also byte-prefix-match the
// unrelated zone "examplex.com" (ending "...com.examplex"). A '.'
// immediately preceded by an escaping '\' belongs to the prefix's own
// final label, not a real separator, and must not match. A prefix that
// holds no name part (a bare class byte, or one ending at the tenant's NUL
// terminator such as key.ZonePrefix) matches on plain bytes alone.
func hasKeyPrefix(k, prefix []byte) bool {
	if !bytes.HasPrefix(k, prefix) {
		return false
	}
	if len(k) == len(prefix) {
		return true
	}
	if bytes.IndexByte(prefix, 0) < 0 || prefix[len(prefix)-1] == 0 {
		return true
	}
	if k[len(prefix)] != '.' {
		return false
	}
	if len(prefix) > 0 && prefix[len(prefix)-1] == '\\' {
		return false
	}
	return true
}

// DeleteRecursive removes every key hasKeyPrefix places under prefix from
// the category — spec.md §4.4's "recursive subtree delete", used to drop a
// zone apex and every descendant ENTRY key in one call.
func (t *Txn) DeleteRecursive(cat Category, prefix []byte) (int, error) {
	b := t.bucket(cat)
	c := b.Cursor()
	var victims [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if !hasKeyPrefix(k, prefix) {
			continue // a sibling such as "example-x" sorting inside the range
		}
		cp := make([]byte, len(k))
		copy(cp, k)
		victims = append(victims, cp)
	}
	for _, k := range victims {
		if err := b.Delete(k); err != nil {
			return 0, xlog.New("recursive delete").Base(err).WithKind(xlog.KindInternal)
		}
	}
	if cat == CategoryEntry && len(victims) > 0 {
		t.mutatedEntry = true
		t.pending = append(t.pending, &rpc.ZoneUpdate{
			Op:       rpc.OpDeleteRecursive,
			Category: string(cat),
			Key:      bytes.Clone(prefix),
		})
	}
	return len(victims), nil
}

// IterFunc is called once per key/value during Iterate/IterateFromPrev.
// Returning false stops iteration early without an error.
type IterFunc func(k, v []byte) (cont bool, err error)

// Iterate walks every key hasKeyPrefix places under prefix in ascending
// order, starting at prefix itself (spec.md §4.4's zone/AXFR full scan).
func (t *Txn) Iterate(cat Category, prefix []byte, fn IterFunc) error {
	c := t.bucket(cat).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if !hasKeyPrefix(k, prefix) {
			continue
		}
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// IterateFromPrev walks every key hasKeyPrefix places under prefix in
// descending order, starting at start if present or else at the last key
// before it. Nothing in the repository calls it yet; the resolver's
// closest-enclosing-zone walk does point lookups with Get instead.
func (t *Txn) IterateFromPrev(cat Category, start []byte, prefix []byte, fn IterFunc) error {
	c := t.bucket(cat).Cursor()
	k, v := c.Seek(start)
	if k == nil {
		k, v = c.Last()
	} else if !bytes.Equal(k, start) {
		k, v = c.Prev()
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
		if !hasKeyPrefix(k, prefix) {
			continue
		}
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// Commit finalizes the transaction. Write transactions that mutated
// CategoryEntry are assigned the next monotonic trxid and recorded in
// CategoryTrxLog (spec.md §4.4: "every ENTRY mutation is logged"); purely
// administrative writes (account/default category only) consume no trxid.
func (t *Txn) Commit() error {
	if t.writable && t.mutatedEntry {
		t.trxID = atomic.AddUint64(&t.engine.nextTrxID, 1) - 1
		rec := make([]byte, 8)
		now := uint64(time.Now().Unix())
		for i := 0; i < 8; i++ {
			rec[i] = byte(now >> (56 - 8*i))
		}
		if err := t.tx.Bucket([]byte(CategoryTrxLog)).Put(key.EncodeTrxID(t.trxID), rec); err != nil {
			t.tx.Rollback()
			return xlog.New("write trxlog record").Base(err).WithKind(xlog.KindInternal)
		}
		if len(t.pending) > 0 {
			for _, u := range t.pending {
				u.TrxID = t.trxID
			}
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(t.pending); err != nil {
				t.tx.Rollback()
				return xlog.New("encode replication diff").Base(err).WithKind(xlog.KindInternal)
			}
			if err := t.tx.Bucket([]byte(CategoryDiff)).Put(key.EncodeTrxID(t.trxID), buf.Bytes()); err != nil {
				t.tx.Rollback()
				return xlog.New("write replication diff").Base(err).WithKind(xlog.KindInternal)
			}
		}
	}
	if err := t.tx.Commit(); err != nil {
		return xlog.New("commit transaction").Base(err).WithKind(xlog.KindInternal)
	}
	if t.trxID > 0 {
		metrics.CommittedTrxID.Set(float64(t.trxID))
	}
	t.engine.hookMu.RLock()
	hook := t.engine.commitHook
	t.engine.hookMu.RUnlock()
	if hook != nil {
		for _, u := range t.pending {
			hook(u)
		}
	}
	return nil
}

// TrxID returns the transaction id assigned at Commit, or 0 if the
// transaction never mutated CategoryEntry.
func (t *Txn) TrxID() uint64 { return t.trxID }

// Rollback discards the transaction.
func (t *Txn) Rollback() error { return t.tx.Rollback() }

// DiffSince returns every ZoneUpdate committed with trxid > since, in
// ascending trxid order, read back from CategoryDiff — spec.md §4.9's
// reconnect catch-up: a follower resuming from since+1 gets exactly the
// mutations it missed, including deletes, rather than a full re-snapshot
// of the current CategoryEntry table (which cannot represent a delete).
func (e *Engine) DiffSince(since uint64) ([]*rpc.ZoneUpdate, error) {
	var out []*rpc.ZoneUpdate
	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(CategoryDiff)).Cursor()
		for k, v := c.Seek(key.EncodeTrxID(since + 1)); k != nil; k, v = c.Next() {
			var batch []*rpc.ZoneUpdate
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&batch); err != nil {
				return err
			}
			out = append(out, batch...)
		}
		return nil
	})
	if err != nil {
		return nil, xlog.New("read replication diff").Base(err).WithKind(xlog.KindInternal)
	}
	return out, nil
}

// Backup copies a consistent snapshot of the database to dest. Only one
// backup may run at a time (spec.md §4.4's try-lock rule) — a concurrent
// call returns KindConflict immediately rather than queuing.
func (e *Engine) Backup(dest string) (backupID string, err error) {
	if !atomic.CompareAndSwapInt32(&e.backupFlag, 0, 1) {
		return "", xlog.New("backup already in progress").WithKind(xlog.KindConflict)
	}
	defer atomic.StoreInt32(&e.backupFlag, 0)

	id := uuid.New().String()
	err = e.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(dest, 0600)
	})
	if err != nil {
		return "", xlog.New("backup database").Base(err).WithKind(xlog.KindInternal)
	}
	return id, nil
}

// ScheduleBackup returns a task.Periodic that backs up to destFn()'s
// result (allowing a timestamped path per run) every interval. Callers
// hold onto the returned task and call Start/Close around the engine's
// own lifetime.
func (e *Engine) ScheduleBackup(interval time.Duration, destFn func() string) *task.Periodic {
	return &task.Periodic{
		Interval: interval,
		Execute: func() error {
			_, err := e.Backup(destFn())
			return err
		},
	}
}
