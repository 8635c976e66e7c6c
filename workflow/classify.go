package workflow

import (
	"context"
	"errors"
	"os"

	"github.com/JeromeFenwick/bili-sync/remote"
	"github.com/JeromeFenwick/bili-sync/status"
)

// Kind is the abstract error taxonomy a subtask result falls into. It names
// categories, not concrete types, so new remote/local error values can be
// folded in at the call site without growing this set.
type Kind int

const (
	KindNone Kind = iota
	KindRemoteRiskControl
	KindRemoteNotFound
	KindRemoteGone
	KindRemoteTransient
	KindLocalIO
	KindTemplateRender
	KindStorageTx
)

// Classify maps an error from a subtask's underlying call into its
// taxonomy Kind. RemoteRiskControl is never returned from here for a
// subtask's own status — callers must check for it explicitly before
// calling Classify, since it aborts the whole cycle rather than failing one
// slot (see RunVideo).
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, remote.ErrRiskControl):
		return KindRemoteRiskControl
	case errors.Is(err, remote.ErrNotFound):
		return KindRemoteNotFound
	case errors.Is(err, remote.ErrGone):
		return KindRemoteGone
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindRemoteTransient
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return KindLocalIO
	default:
		return KindRemoteTransient
	}
}

// ToExecutionStatus converts a subtask's raw error into the ExecutionStatus
// its slot should record, per the Kind taxonomy: RemoteNotFound/RemoteGone
// are terminal "nothing to do" (Ignored); everything else retryable
// (Failed). RemoteRiskControl is not expected here; callers handle it
// upstream of any subtask.
func ToExecutionStatus(err error) status.ExecutionStatus {
	if err == nil {
		return status.Succeeded()
	}
	switch Classify(err) {
	case KindRemoteNotFound, KindRemoteGone:
		return status.Ignored(err)
	default:
		return status.Failed(err)
	}
}
