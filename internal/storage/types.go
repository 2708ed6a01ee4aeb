package storage

// Message is the domain row synced to clients. Deleted rows are tombstoned
// rather than removed so their deletion can be diffed into future pulls.
type Message struct {
	ID      string
	Sender  string
	Content string
	Ord     int64
	Deleted bool
	Version int64
}

// ClientCursor records the highest mutation ID accepted from one client
// identity and the global version at which the cursor last changed.
type ClientCursor struct {
	ClientID       string
	ClientGroupID  string
	LastMutationID int64
	Version        int64
}
