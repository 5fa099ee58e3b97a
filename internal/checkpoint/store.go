package checkpoint

import "context"

// Store is the shared key-value state holding one continuation token per
// scope key. Implementations make no ordering promise for ListKeys and
// provide no locking across keys: two passes over the same store may both
// fetch and overwrite a key.
type Store interface {
	ListKeys(ctx context.Context) ([]string, error)
	// Get returns "" for a missing key.
	Get(ctx context.Context, key string) (string, error)
	// Put inserts or overwrites.
	Put(ctx context.Context, key, token string) error
}

// Deleter is implemented by stores that support removing keys. Only the
// operator purge command uses it; the sync engine never deletes.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Lister is implemented by stores that can return every entry in one query.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

// Entry is a key with its stored token, for listings.
type Entry struct {
	Key   string `db:"key"   json:"key"`
	Token string `db:"token" json:"token"`
}
