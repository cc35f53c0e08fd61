package incubator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrHalted is returned by Spawn when the kill switch is inactive.
var ErrHalted = errors.New("incubator halted by kill switch")

// ErrSpawnFinished is returned by Env.Report once the spawning call has
// returned. An abandoned task can no longer write to the ledger.
var ErrSpawnFinished = errors.New("spawn already finished")

// TemplateNotFoundError is returned for an unregistered task type.
// Nothing is created when it is returned.
type TemplateNotFoundError struct {
	TaskType string
	Known    []string
}

func (e *TemplateNotFoundError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown task type %q", e.TaskType)
	}
	return fmt.Sprintf("unknown task type %q (known: %s)", e.TaskType, strings.Join(e.Known, ", "))
}

// TimeoutError is returned when a task exceeds its deadline.
// Abandoned is set when the task did not stop within the teardown grace
// period after being cancelled.
type TimeoutError struct {
	TaskType  string
	AgentID   string
	Timeout   time.Duration
	Abandoned bool
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("task %s (%s) timed out after %s", e.TaskType, e.AgentID, e.Timeout)
	if e.Abandoned {
		msg += " and did not stop when cancelled"
	}
	return msg
}

// Is lets callers match any timeout with errors.Is(err, context.DeadlineExceeded).
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// ExecutionError wraps any other task failure: bad parameters, a workspace
// that could not be created, a returned error or a panic.
type ExecutionError struct {
	TaskType string
	AgentID  string
	Phase    string // build, workspace, run
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.AgentID == "" {
		return fmt.Sprintf("task %s %s failed: %v", e.TaskType, e.Phase, e.Err)
	}
	return fmt.Sprintf("task %s (%s) %s failed: %v", e.TaskType, e.AgentID, e.Phase, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// PanicError carries a recovered task panic inside an ExecutionError.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsTemplateNotFound reports whether err is a *TemplateNotFoundError.
func IsTemplateNotFound(err error) bool {
	var e *TemplateNotFoundError
	return errors.As(err, &e)
}

// IsTimeout reports whether err is a *TimeoutError.
func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

// IsExecution reports whether err is an *ExecutionError.
func IsExecution(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e)
}
