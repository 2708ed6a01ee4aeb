package replicache

import (
	"encoding/json"

	"replichat/server/internal/storage"
)

// MutatorFunc applies one domain mutation inside the caller's transaction.
// Implementations must stamp every row they touch with version.
type MutatorFunc func(tx storage.WriteTx, args json.RawMessage, version int64) error

// Registry maps mutation names to their server-side apply functions. New
// mutation kinds are added by registering additional mappings; this is the
// system's extension point.
type Registry map[string]MutatorFunc

func NewRegistry() Registry {
	return make(Registry)
}

func (r Registry) Register(name string, fn MutatorFunc) {
	r[name] = fn
}
