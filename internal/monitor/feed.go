package monitor

import "context"

// Watched collections.
const (
	CollectionClients   = "clients"
	CollectionProposals = "proposals"
)

// ChangeKind is the storage-level classification of a change notification.
// Removals are not observed; there is no deletion event kind.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
)

// Change is one storage-level mutation delivered by a feed.
type Change struct {
	Collection string
	Kind       ChangeKind
	Record     map[string]any
}

// Feed is a live view over the watched collections. Both implementations
// emit the current contents of each collection as additions on start, then
// stream subsequent mutations.
type Feed interface {
	// Start begins delivery on the Changes channel until ctx is cancelled
	// or Stop is called.
	Start(ctx context.Context) error

	// Changes returns the delivery channel. Closed after Stop.
	Changes() <-chan Change

	// Stop detaches the feed and closes the channel.
	Stop()
}
