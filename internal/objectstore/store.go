package objectstore

import "context"

// Store is the session store contract: immutable object bodies plus a
// mutable tag set per key. PutTags replaces the whole set; the backing
// store has no partial update, so every tag change is read-modify-write
// and two concurrent writers can lose an update.
type Store interface {
	// List returns every object key under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Get reads the object body.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes an object body with the given content type.
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// GetTags reads the object's tag set. A missing tag set is an empty map.
	GetTags(ctx context.Context, key string) (map[string]string, error)
	// PutTags replaces the object's entire tag set.
	PutTags(ctx context.Context, key string, tags map[string]string) error
	// CopyTo copies the object into another bucket under the same key.
	CopyTo(ctx context.Context, destBucket, key string) error
	// EnsureBucket creates the bucket if it does not exist yet.
	EnsureBucket(ctx context.Context, bucket string) error
}
