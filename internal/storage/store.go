// Package storage is the bbolt-backed persistence adapter behind §4.6's
// "set of typed namespaces" contract: each namespace exposes read/write/
// save, transactional per-namespace, with no cross-namespace atomicity
// assumed. In the shape of ledger.go's typed, named state buckets opened
// once at startup and reused for the process lifetime, swapping its
// WAL-replay model for bbolt's own durable B+tree.
package storage

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/duniter-go/node/pkg/errs"
)

// Namespace names, one per §6's persisted-state layout.
const (
	NSBlockchain   = "blockchain"
	NSForks        = "forks"
	NSForkBlocks   = "fork_blocks"
	NSIdentities   = "identities"
	NSMemberships  = "memberships"
	NSCerts        = "certs"
	NSCertsExpir   = "certs_expir"
	NSSources      = "sources"
	NSTransactions = "transactions"
	NSParams       = "params"
)

var allNamespaces = []string{
	NSBlockchain, NSForks, NSForkBlocks, NSIdentities, NSMemberships,
	NSCerts, NSCertsExpir, NSSources, NSTransactions, NSParams,
}

// Store owns the bbolt database backing every namespace.
type Store struct {
	log *logrus.Logger
	db  *bbolt.DB
}

// Open opens (creating if absent) the per-currency database at path and
// ensures every §6 namespace bucket exists.
func Open(log *logrus.Logger, path string) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errs.Wrapf(err, "storage: open %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, ns := range allNamespaces {
			if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errs.Wrap(err, "storage: create namespace buckets")
	}
	return &Store{log: log, db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Namespace returns a handle to one of the §6 namespaces. The bucket must
// already exist (Open creates every known one); callers never create
// buckets ad hoc.
func (s *Store) Namespace(name string) *Namespace {
	return &Namespace{store: s, name: name}
}

// Namespace is one independent key-value store per §6, exposing the
// read(fn)/write(fn)/save() trio §4.6 specifies. Each Read/Write call is
// its own bbolt transaction, so atomicity never crosses namespaces or
// calls, matching §4.6's "cross-namespace atomicity is not assumed".
type Namespace struct {
	store *Store
	name  string
}

// Read runs fn against the namespace's bucket inside a read-only
// transaction.
func (n *Namespace) Read(fn func(b *bbolt.Bucket) error) error {
	err := n.store.db.View(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket([]byte(n.name)))
	})
	return errs.Wrapf(err, "storage: read %s", n.name)
}

// Write runs fn against the namespace's bucket inside a read-write
// transaction. The transaction commits (and bbolt fsyncs) on success.
func (n *Namespace) Write(fn func(b *bbolt.Bucket) error) error {
	err := n.store.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket([]byte(n.name)))
	})
	return errs.Wrapf(err, "storage: write %s", n.name)
}

// Save is a no-op: bbolt commits and syncs each Write transaction as it
// completes, so there is nothing left to flush. Kept as a method so
// callers written against §4.6's three-operation contract compile
// unchanged.
func (n *Namespace) Save() error { return nil }

// Reset clears every key in the namespace's bucket, backing the `reset`
// CLI command.
func (n *Namespace) Reset() error {
	return n.store.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(n.name)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(n.name))
		return err
	})
}

// ResetAll clears every namespace, backing `reset all`.
func (s *Store) ResetAll() error {
	for _, ns := range allNamespaces {
		if err := s.Namespace(ns).Reset(); err != nil {
			return errs.Wrapf(err, "storage: reset %s", ns)
		}
	}
	return nil
}
