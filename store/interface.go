package store

import (
	"io"

	"datom.lol/attr"
	"datom.lol/datom"
	"datom.lol/db"
	"datom.lol/ids"
)

// I is the datom store as its consumers see it.
type I interface {
	Snapshotter
	Transactor
	Migrator
	Excisor
	Compactor
	Subscriber
	// Closer stops the writer and closes the backend. Snapshots must be
	// released before.
	io.Closer
}

type Snapshotter interface {
	// Snapshot returns the latest committed snapshot. The caller releases it.
	Snapshot() (s *db.T, err er)
	// Registry is the schema of the latest commit.
	Registry() *attr.Registry
}

type Transactor interface {
	// Begin starts building a transaction.
	Begin() *Tx
	// Transact commits datoms, which may carry temp ids, as one transaction.
	Transact(c cx, datoms []*datom.T, blobs db.Blobs) (res *Result, err er)
}

type Migrator interface {
	// Migrate brings the schema in line with the declared definitions. Running
	// it again with the same definitions writes nothing.
	Migrate(c cx, defs []attr.Definition) (res *Result, err er)
}

type Excisor interface {
	// Excise removes every datom of the entities from every index and records
	// how many were removed.
	Excise(c cx, entities []ids.EntityId) (res *Result, err er)
	// ScanUpdate rewrites the values of logged datoms in place.
	ScanUpdate(c cx, fn Rewrite) (res *Result, err er)
}

type Compactor interface {
	// FlushAndCompact has the backend persist and reclaim space.
	FlushAndCompact(c cx) (err er)
}

type Subscriber interface {
	// Subscribe delivers the snapshot of every later commit. A subscriber
	// that falls behind loses older snapshots, never the latest.
	Subscribe(buffer no) (ch <-chan *db.T, cancel func())
}

var _ I = (*T)(nil)
