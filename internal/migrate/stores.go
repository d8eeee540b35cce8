package migrate

import (
	"context"
	"time"

	"github.com/juju/mgo/v3/bson"
)

// Embedded is one child document found inside a parent document, tagged with
// the parent's identity.
type Embedded struct {
	ParentID string
	Doc      bson.M
}

// SourceStore is the read-only legacy document store.
type SourceStore interface {
	// Now returns the run-wide reference instant used to default missing
	// timestamps; it is captured once per load.
	Now() time.Time
	// LoadCollection returns all documents of a collection in natural order.
	LoadCollection(ctx context.Context, collection string) ([]bson.M, error)
	// LoadEmbedded flattens the childField array of every document in
	// parentCollection, tagging each child with the parent's parentIDField.
	LoadEmbedded(ctx context.Context, parentCollection, parentIDField, childField string) ([]Embedded, error)
	// FetchAssetPayload returns the binary payload stored under the original
	// asset key, or (nil, nil) when the source holds no data for it.
	FetchAssetPayload(ctx context.Context, originalUUID string) ([]byte, error)
	Close() error
}

// TargetStore is the destination relational store. All mutations run inside a
// single transaction per commit window; Close rolls back anything left
// uncommitted.
type TargetStore interface {
	Name() string
	DeleteAll(ctx context.Context, table string) (int64, error)
	DisableTriggers(ctx context.Context, table string) error
	EnableTriggers(ctx context.Context, table string) error
	InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error
	Commit(ctx context.Context) error
	Close() error
}

// ObjectStore is the destination blob storage for template assets.
type ObjectStore interface {
	BucketExists(ctx context.Context) (bool, error)
	CreateBucket(ctx context.Context) error
	CountTemplates(ctx context.Context) (int, error)
	DeleteTemplates(ctx context.Context) error
	StoreAsset(ctx context.Context, templateID, assetID, contentType string, data []byte) error
}
