package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors.
type ErrorKind string

const (
	// KindTaskExecution: a frame callback panicked. Contained by the scheduler.
	KindTaskExecution ErrorKind = "task_execution"

	// KindConfiguration: invalid bounds or options supplied by the caller.
	KindConfiguration ErrorKind = "configuration"

	// KindState: the operation needs data that is not there yet
	// (empty recorder, too few samples).
	KindState ErrorKind = "state"

	// KindImport: malformed snapshot data.
	KindImport ErrorKind = "import"
)

var (
	ErrInvalidBounds      = errors.New("min must be less than max")
	ErrNonFiniteValue     = errors.New("value must be finite")
	ErrUnknownEasing      = errors.New("unknown easing function")
	ErrNoSnapshots        = errors.New("no snapshots recorded")
	ErrNotEnoughSamples   = errors.New("not enough samples")
	ErrUnsupportedVersion = errors.New("unsupported snapshot format version")
	ErrEmptyChain         = errors.New("chain has no steps")
	ErrAlreadyRunning     = errors.New("already running")
)

// EngineError is a classified error with the operation that produced it.
type EngineError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another *EngineError of the same kind.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Op == "" || t.Op == e.Op)
}

// NewConfigurationError wraps err as a configuration error.
func NewConfigurationError(op string, err error) *EngineError {
	return &EngineError{Kind: KindConfiguration, Op: op, Err: err}
}

// NewStateError wraps err as a state error.
func NewStateError(op string, err error) *EngineError {
	return &EngineError{Kind: KindState, Op: op, Err: err}
}

// NewImportError wraps err as an import error.
func NewImportError(op string, err error) *EngineError {
	return &EngineError{Kind: KindImport, Op: op, Err: err}
}

// TaskExecutionError describes a recovered panic from a frame callback.
type TaskExecutionError struct {
	TaskID    string
	PanicInfo any
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("[%s] task %q panicked: %v", KindTaskExecution, e.TaskID, e.PanicInfo)
}

// Is matches the generic task execution kind so callers can use
// errors.Is(err, &EngineError{Kind: KindTaskExecution}).
func (e *TaskExecutionError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Kind == KindTaskExecution
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return errors.Is(err, &EngineError{Kind: kind})
}
