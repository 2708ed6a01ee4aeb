package replicache

import "fmt"

// FutureMutationError reports a mutation ID ahead of what the server has
// recorded for the client. A correctly behaving client never produces this;
// it signals desync (typically a server data reset) and the client must
// discard local state and resync from zero.
type FutureMutationError struct {
	ClientID   string
	MutationID int64
	ExpectedID int64
}

func (e *FutureMutationError) Error() string {
	return fmt.Sprintf("mutation %d from client %q is from the future, expected %d", e.MutationID, e.ClientID, e.ExpectedID)
}

// FutureCookieError reports a pull cookie ahead of the current global
// version. The client must discard local state and resync from zero.
type FutureCookieError struct {
	Cookie         int64
	CurrentVersion int64
}

func (e *FutureCookieError) Error() string {
	return fmt.Sprintf("cookie %d is from the future, current version is %d", e.Cookie, e.CurrentVersion)
}

// UnknownMutationError reports a mutation name with no registered mutator.
type UnknownMutationError struct {
	Name string
}

func (e *UnknownMutationError) Error() string {
	return fmt.Sprintf("unknown mutation %q", e.Name)
}
