// Package apperr defines the error taxonomy shared by both ingestion
// pipelines. Every error surfaced across a component boundary is wrapped in
// one of these kinds so callers can branch on errors.Is without parsing
// messages.
package apperr

import "errors"

// Kind classifies an error for logging severity and retry policy.
type Kind int

const (
	// Provider errors come from RPC or subscription transport and are
	// retried with backoff by the caller via the retry package.
	Provider Kind = iota
	// WebSocket errors come from the shred feed transport. They are not
	// retried internally; the owning reconnect loop handles them.
	WebSocket
	// Database errors come from the store. Transient ones are retried by
	// the writer; a failure that follows a partial write is unrecoverable.
	Database
	// Parse errors mean a payload was malformed or incomplete.
	Parse
	// BlockNotFound means an RPC call returned null where a block was
	// expected.
	BlockNotFound
	// Other covers everything else, including queue-drain timeouts.
	Other
)

func (k Kind) String() string {
	switch k {
	case Provider:
		return "provider"
	case WebSocket:
		return "websocket"
	case Database:
		return "database"
	case Parse:
		return "parse"
	case BlockNotFound:
		return "block_not_found"
	case Other:
		return "other"
	default:
		return "unknown"
	}
}

// Error is a kinded, wrappable error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Kind.String() + ": " + e.Op + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and an operation label.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) has the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel errors used with errors.Is for well-known conditions that don't
// need an underlying cause.
var (
	ErrQueueShutdown = errors.New("apperr: queue shut down")
	ErrDrainTimeout  = errors.New("apperr: queue drain timed out")
)
