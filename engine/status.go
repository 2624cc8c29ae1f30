// Package engine defines the minimal storage-engine contract the fluid
// compaction controller, bulk loader, and Monkey filter policy are built
// against (spec §6 "External Interfaces"). The engine itself — its on-disk
// format, write-ahead log, iterator/merge engine, and block cache — is out
// of scope (spec §1 NON-GOALS); this package only names what the core
// needs to observe and drive.
//
// Reference: the shape of these types is grounded on the teacher's
// event_listener.go (FlushJobInfo/CompactionJobInfo/EventListener) and
// db_apis.go's CompactFiles/CompactionOptions, generalized from a single
// concrete engine into the contract an arbitrary engine must satisfy.
package engine

import "fmt"

// StatusKind classifies the outcome of an engine operation, distinguishing
// the cases §7 "Error Handling Design" requires the controller to treat
// differently.
type StatusKind int

const (
	// StatusOK means the operation succeeded.
	StatusOK StatusKind = iota
	// StatusIOError is a terminal failure: no auto-retry.
	StatusIOError
	// StatusInvalidArgument is a terminal failure: no auto-retry (e.g. a
	// stale file name from a racing compaction).
	StatusInvalidArgument
	// StatusOther is any other non-ok status: eligible for a single
	// auto-retry when the task's RetryOnFail is set.
	StatusOther
)

func (k StatusKind) String() string {
	switch k {
	case StatusOK:
		return "OK"
	case StatusIOError:
		return "IOError"
	case StatusInvalidArgument:
		return "InvalidArgument"
	case StatusOther:
		return "Other"
	default:
		return "Unknown"
	}
}

// Status is the result of an engine operation.
type Status struct {
	Kind StatusKind
	Err  error
}

// OK reports whether the status represents success.
func (s Status) OK() bool { return s.Kind == StatusOK }

func (s Status) Error() string {
	if s.Err == nil {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s: %v", s.Kind, s.Err)
}

// OKStatus is the canonical success value.
var OKStatus = Status{Kind: StatusOK}

// IOErrorStatus wraps err as a terminal IO error.
func IOErrorStatus(err error) Status {
	return Status{Kind: StatusIOError, Err: err}
}

// InvalidArgumentStatus wraps err as a terminal invalid-argument error.
func InvalidArgumentStatus(err error) Status {
	return Status{Kind: StatusInvalidArgument, Err: err}
}

// OtherStatus wraps err as a retryable "other" error.
func OtherStatus(err error) Status {
	return Status{Kind: StatusOther, Err: err}
}
