// Package errors provides the stable error taxonomy used across every
// subsystem: a small Kind enum instead of ad hoc error values, so a worker
// loop can dispatch on Kind without string matching.
package errors

import "fmt"

// Kind tags a WavsError with the category a worker loop dispatches on.
type Kind string

const (
	KindConfig                  Kind = "config_error"
	KindTriggerConnection       Kind = "trigger_connection_error"
	KindEngineInstantiate       Kind = "engine_instantiate_error"
	KindEngineExec               Kind = "engine_exec_error"
	KindUnknownDigest            Kind = "unknown_digest"
	KindSubmissionNetwork        Kind = "submission_network_error"
	KindSubmissionRevertKnown    Kind = "submission_revert_known"
	KindSubmissionRevertUnknown  Kind = "submission_revert_unknown"
	KindStorage                  Kind = "storage_error"
	KindValidation                Kind = "validation_error"
)

// Policy describes how a worker loop should react to an error Kind.
type Policy string

const (
	PolicyFatal     Policy = "fatal"
	PolicyRetry     Policy = "retry"
	PolicyDrop      Policy = "drop"
	PolicyNotError  Policy = "not_error" // transient state, not a failure
)

var policies = map[Kind]Policy{
	KindConfig:                 PolicyFatal,
	KindTriggerConnection:      PolicyRetry,
	KindEngineInstantiate:      PolicyDrop,
	KindEngineExec:             PolicyDrop,
	KindUnknownDigest:          PolicyDrop,
	KindSubmissionNetwork:      PolicyRetry,
	KindSubmissionRevertKnown:  PolicyNotError,
	KindSubmissionRevertUnknown: PolicyFatal, // per-event hard failure; queue stays active
	KindStorage:                PolicyFatal,  // fatal if on commit path; callers may downgrade read-path storage errors
	KindValidation:              PolicyDrop,
}

// PolicyFor returns the retry/drop/fatal/not-error policy for a Kind.
func PolicyFor(k Kind) Policy {
	if p, ok := policies[k]; ok {
		return p
	}
	return PolicyFatal
}

// WavsError is the concrete error type every subsystem returns.
type WavsError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *WavsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *WavsError) Unwrap() error { return e.Err }

// Policy reports this error's retry/drop/fatal/not-error policy.
func (e *WavsError) Policy() Policy { return PolicyFor(e.Kind) }

func New(kind Kind, message string) *WavsError {
	return &WavsError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *WavsError {
	return &WavsError{Kind: kind, Message: message, Err: err}
}

// As reports whether err (or something it wraps) is a *WavsError, writing it
// into *target like errors.As.
func As(err error, target **WavsError) bool {
	for err != nil {
		if we, ok := err.(*WavsError); ok {
			*target = we
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
