// Package source implements the read-only legacy document store client on
// top of mgo. Binary asset payloads live in GridFS keyed by their original
// UUID.
package source

import (
	"context"
	"fmt"
	"io"
	"time"

	mgo "github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"registrymigrate/internal/migrate"
)

// Compile-time contract assertion against the orchestrator's interface.
var _ migrate.SourceStore = (*Mongo)(nil)

const gridFSPrefix = "fs"

// Mongo wraps one mgo session scoped to the legacy database. The mgo driver
// predates context plumbing, so the context parameters are accepted for
// interface compatibility and deadlines are handled by session timeouts.
type Mongo struct {
	session *mgo.Session
	db      *mgo.Database
	now     time.Time
}

// Dial connects to the source store.
func Dial(url, database string) (*Mongo, error) {
	session, err := mgo.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial mongo: %w", err)
	}
	session.SetMode(mgo.Monotonic, true)
	return &Mongo{session: session, db: session.DB(database)}, nil
}

// Now returns the run-wide reference instant. The first call captures the
// source server's clock (local clock as fallback) so every record loaded in
// one pass shares the same default timestamp.
func (m *Mongo) Now() time.Time {
	if !m.now.IsZero() {
		return m.now
	}
	var status struct {
		LocalTime time.Time `bson:"localTime"`
	}
	if err := m.db.Run(bson.D{{Name: "isMaster", Value: 1}}, &status); err == nil && !status.LocalTime.IsZero() {
		m.now = status.LocalTime.UTC()
	} else {
		m.now = time.Now().UTC()
	}
	return m.now
}

// LoadCollection returns all documents of collection in natural order.
func (m *Mongo) LoadCollection(_ context.Context, collection string) ([]bson.M, error) {
	var docs []bson.M
	if err := m.db.C(collection).Find(nil).All(&docs); err != nil {
		return nil, fmt.Errorf("load %s: %w", collection, err)
	}
	return docs, nil
}

// LoadEmbedded flattens the childField array of every parent document,
// tagging each child with the parent's parentIDField value.
func (m *Mongo) LoadEmbedded(_ context.Context, parentCollection, parentIDField, childField string) ([]migrate.Embedded, error) {
	var parents []bson.M
	if err := m.db.C(parentCollection).Find(nil).All(&parents); err != nil {
		return nil, fmt.Errorf("load %s: %w", parentCollection, err)
	}
	var out []migrate.Embedded
	for _, parent := range parents {
		parentID, _ := parent[parentIDField].(string)
		children, _ := parent[childField].([]any)
		for _, child := range children {
			doc, ok := child.(bson.M)
			if !ok {
				continue
			}
			out = append(out, migrate.Embedded{ParentID: parentID, Doc: doc})
		}
	}
	return out, nil
}

// FetchAssetPayload reads the GridFS file stored under the original asset
// UUID; (nil, nil) when the source holds no payload for it.
func (m *Mongo) FetchAssetPayload(_ context.Context, originalUUID string) ([]byte, error) {
	file, err := m.db.GridFS(gridFSPrefix).Open(originalUUID)
	if err == mgo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open asset %s: %w", originalUUID, err)
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", originalUUID, err)
	}
	return data, nil
}

// Close releases the session.
func (m *Mongo) Close() error {
	m.session.Close()
	return nil
}
