package send

import (
	"encoding/json"
	"errors"
	"fmt"

	clierr "github.com/ggonzalez94/sendflow/internal/errors"
)

type ErrorKind string

const (
	ErrInvalidParameters     ErrorKind = "invalid_parameters"
	ErrExceededThreshold     ErrorKind = "exceeded_threshold"
	ErrUnknown               ErrorKind = "unknown_error"
	ErrUnsupportedWalletType ErrorKind = "UNSUPPORTED_WALLET_TYPE"
	ErrUnsupportedKind       ErrorKind = "UNSUPPORTED_KIND"
	ErrFailedToSign          ErrorKind = "FAILED_TO_SIGN"
	ErrSubmissionUnknown     ErrorKind = "UNKNOWN_ERROR"
	ErrBroadcast             ErrorKind = "broadcast_error"
)

// Error is a terminal pipeline failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func fail(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeDeclined Outcome = "declined"
)

// Result is the single terminal event of a session.
type Result struct {
	Outcome Outcome
	OpHash  string
	Kind    ErrorKind
	Message string
}

func Success(opHash string) Result { return Result{Outcome: OutcomeSuccess, OpHash: opHash} }

func Failure(kind ErrorKind, message string) Result {
	return Result{Outcome: OutcomeFailure, Kind: kind, Message: message}
}

func Declined() Result { return Result{Outcome: OutcomeDeclined} }

func resultFromError(err error) Result {
	var pe *Error
	if errors.As(err, &pe) {
		return Failure(pe.Kind, pe.Message)
	}
	return Failure(ErrUnknown, "")
}

// MarshalJSON renders the event the way paired dApps consume it: an op hash
// string, an error kind string, an {error, errorMessage} object or null.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Outcome {
	case OutcomeSuccess:
		return json.Marshal(r.OpHash)
	case OutcomeFailure:
		if r.Message == "" {
			return json.Marshal(string(r.Kind))
		}
		return json.Marshal(struct {
			Error        ErrorKind `json:"error"`
			ErrorMessage string    `json:"errorMessage"`
		}{r.Kind, r.Message})
	default:
		return []byte("null"), nil
	}
}

// Err maps a non-success result to a typed CLI error.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeDeclined:
		return clierr.New(clierr.CodeDeclined, "request declined")
	}
	msg := string(r.Kind)
	if r.Message != "" {
		msg = fmt.Sprintf("%s: %s", r.Kind, r.Message)
	}
	return clierr.New(codeForKind(r.Kind), msg)
}

func codeForKind(kind ErrorKind) clierr.Code {
	switch kind {
	case ErrInvalidParameters:
		return clierr.CodeSimulation
	case ErrExceededThreshold:
		return clierr.CodePolicy
	case ErrUnsupportedWalletType, ErrUnsupportedKind:
		return clierr.CodeUnsupported
	case ErrFailedToSign:
		return clierr.CodeSigner
	case ErrBroadcast:
		return clierr.CodeBroadcast
	case ErrSubmissionUnknown:
		return clierr.CodeUnavailable
	default:
		return clierr.CodeInternal
	}
}
