package scheduler

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Code is a node's position in its lifecycle.
type Code int32

const (
	New Code = iota
	Scheduled
	Running
	Retry
	Finished
	Skipped
	ErrorExecute
	ErrorDependency
	ErrorNoInput
	ErrorAborted
)

var codeNames = [...]string{
	New:             "NEW",
	Scheduled:       "SCHEDULED",
	Running:         "RUNNING",
	Retry:           "RETRY",
	Finished:        "FINISHED",
	Skipped:         "SKIPPED",
	ErrorExecute:    "ERROR_EXECUTE",
	ErrorDependency: "ERROR_DEPENDENCY",
	ErrorNoInput:    "ERROR_NO_INPUT",
	ErrorAborted:    "ERROR_ABORTED",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("CODE(%d)", int32(c))
}

// Failed reports whether c is one of the four error states.
func (c Code) Failed() bool {
	switch c {
	case ErrorExecute, ErrorDependency, ErrorNoInput, ErrorAborted:
		return true
	}
	return false
}

// Done reports whether c is terminal.
func (c Code) Done() bool {
	return c == Finished || c == Skipped || c.Failed()
}

// Failure reasons recorded on a Status. Execution failures record the task's
// own error instead.
var (
	ErrAborted          = errors.New("aborted")
	ErrDependencyFailed = errors.New("dependency failed")
	ErrNoInput          = errors.New("dependency produced no output")
)

type failure struct {
	err error
	dep *Node
}

// Status is the lifecycle record of one node. It is written only by the
// node's own worker (and by admission before the worker exists) and may be
// read from any goroutine.
type Status struct {
	node       *Node
	code       atomic.Int32
	lastUpdate atomic.Int64
	retries    atomic.Int32
	reason     atomic.Pointer[failure]
}

func newStatus(n *Node) *Status {
	s := &Status{node: n}
	s.lastUpdate.Store(time.Now().UnixNano())
	return s
}

// Node returns the node this status belongs to.
func (s *Status) Node() *Node { return s.node }

// Code returns the current state.
func (s *Status) Code() Code { return Code(s.code.Load()) }

// LastUpdate returns the time of the last transition.
func (s *Status) LastUpdate() time.Time { return time.Unix(0, s.lastUpdate.Load()) }

// Retries returns the number of retries consumed.
func (s *Status) Retries() int { return int(s.retries.Load()) }

// Failed reports whether the node ended in an error state.
func (s *Status) Failed() bool { return s.Code().Failed() }

// Done reports whether the node reached a terminal state.
func (s *Status) Done() bool { return s.Code().Done() }

// FailedDependency returns the dependency blamed for ERROR_DEPENDENCY or
// ERROR_NO_INPUT, or nil.
func (s *Status) FailedDependency() *Node {
	if f := s.reason.Load(); f != nil {
		return f.dep
	}
	return nil
}

// Err returns the recorded failure reason, or nil while the node has not failed.
func (s *Status) Err() error {
	f := s.reason.Load()
	if f == nil || !s.Failed() {
		return nil
	}
	if f.dep == nil {
		return f.err
	}
	return fmt.Errorf("%w: %s", f.err, f.dep)
}

func (s *Status) String() string {
	return s.node.String() + " " + s.Code().String()
}

// set moves the node to code and reports whether the observer lets the
// worker carry on. A veto leaves the node in ERROR_ABORTED.
func (s *Status) set(code Code, f *failure) bool {
	s.store(code, f)
	return s.notify()
}

// admit performs NEW -> SCHEDULED. A node that is not NEW was already used
// by an earlier run and is aborted instead.
func (s *Status) admit() bool {
	if !s.code.CompareAndSwap(int32(New), int32(Scheduled)) {
		s.set(ErrorAborted, &failure{err: fmt.Errorf("%w: node was already scheduled", ErrAborted)})
		return false
	}
	s.lastUpdate.Store(time.Now().UnixNano())
	return s.notify()
}

func (s *Status) retry() bool {
	s.retries.Add(1)
	return s.set(Retry, nil)
}

func (s *Status) abort(err error) {
	s.set(ErrorAborted, &failure{err: err})
}

func (s *Status) store(code Code, f *failure) {
	if f != nil {
		s.reason.Store(f)
	}
	s.code.Store(int32(code))
	s.lastUpdate.Store(time.Now().UnixNano())
}

func (s *Status) notify() bool {
	env := s.node.env
	env.report(s)
	if env.observer == nil || env.observer(s) {
		return true
	}
	s.store(ErrorAborted, &failure{err: fmt.Errorf("%w by observer", ErrAborted)})
	env.report(s)
	return false
}
