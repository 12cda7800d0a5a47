package rollup

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind identifies a class of provider failure.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindNetworkNotSupported
	KindMalformedResponse
	KindNetworkError
	KindIncorrectCredentials
	KindSeedTooShort
	KindUnknownToken
	KindIncorrectAddress
	KindOperationTimeout
	KindPollingIntervalTooSmall
	KindMissingRequiredField
	KindNoPrivateKey
	KindNotPackableValue
	KindIncorrectInput
)

var kindNames = map[ErrorKind]string{
	KindOther:                   "Other",
	KindNetworkNotSupported:     "NetworkNotSupported",
	KindMalformedResponse:       "MalformedResponse",
	KindNetworkError:            "NetworkError",
	KindIncorrectCredentials:    "IncorrectCredentials",
	KindSeedTooShort:            "SeedTooShort",
	KindUnknownToken:            "UnknownToken",
	KindIncorrectAddress:        "IncorrectAddress",
	KindOperationTimeout:        "OperationTimeout",
	KindPollingIntervalTooSmall: "PollingIntervalTooSmall",
	KindMissingRequiredField:    "MissingRequiredField",
	KindNoPrivateKey:            "NoPrivateKey",
	KindNotPackableValue:        "NotPackableValue",
	KindIncorrectInput:          "IncorrectInput",
}

// String returns the taxonomy name of the kind.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ParseErrorKind is the inverse of ErrorKind.String. Unknown names map to KindOther.
func ParseErrorKind(name string) ErrorKind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindOther
}

// Retryable reports whether failures of this kind are transient.
func (k ErrorKind) Retryable() bool {
	return k == KindNetworkError || k == KindOperationTimeout
}

// ClientError is the error type returned across the Provider boundary.
type ClientError struct {
	Kind   ErrorKind
	Detail string
}

// NewError creates a ClientError of the given kind.
func NewError(kind ErrorKind, detail string) *ClientError {
	return &ClientError{Kind: kind, Detail: detail}
}

// Errorf creates a ClientError with a formatted detail message.
func Errorf(kind ErrorKind, format string, args ...any) *ClientError {
	return &ClientError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *ClientError) Error() string {
	switch e.Kind {
	case KindNetworkNotSupported:
		return fmt.Sprintf("network '%s' is not supported", e.Detail)
	case KindMalformedResponse:
		return fmt.Sprintf("unable to decode server response: %s", e.Detail)
	case KindNetworkError:
		return fmt.Sprintf("network error: %s", e.Detail)
	case KindMissingRequiredField:
		return fmt.Sprintf("missing required field for a transaction: %s", e.Detail)
	}

	var msg string
	switch e.Kind {
	case KindIncorrectCredentials:
		msg = "provided account credentials are incorrect"
	case KindSeedTooShort:
		msg = "seed too short, must be at least 32 bytes long"
	case KindUnknownToken:
		msg = "token is not supported by the rollup"
	case KindIncorrectAddress:
		msg = "incorrect address"
	case KindOperationTimeout:
		msg = "operation timeout"
	case KindPollingIntervalTooSmall:
		msg = "polling interval is too small"
	case KindNoPrivateKey:
		msg = "private key was not provided for this wallet"
	case KindNotPackableValue:
		msg = "provided value is not packable"
	case KindIncorrectInput:
		msg = "provided function arguments are incorrect"
	default:
		msg = "other"
	}
	if e.Detail != "" {
		return msg + ": " + e.Detail
	}
	return msg
}

// Retryable reports whether the failed operation may succeed when repeated.
func (e *ClientError) Retryable() bool {
	return e.Kind.Retryable()
}

// Is matches any ClientError of the same kind, so the sentinels below work
// with errors.Is regardless of detail.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNetworkNotSupported     = &ClientError{Kind: KindNetworkNotSupported}
	ErrMalformedResponse       = &ClientError{Kind: KindMalformedResponse}
	ErrNetworkError            = &ClientError{Kind: KindNetworkError}
	ErrIncorrectCredentials    = &ClientError{Kind: KindIncorrectCredentials}
	ErrSeedTooShort            = &ClientError{Kind: KindSeedTooShort}
	ErrUnknownToken            = &ClientError{Kind: KindUnknownToken}
	ErrIncorrectAddress        = &ClientError{Kind: KindIncorrectAddress}
	ErrOperationTimeout        = &ClientError{Kind: KindOperationTimeout}
	ErrPollingIntervalTooSmall = &ClientError{Kind: KindPollingIntervalTooSmall}
	ErrMissingRequiredField    = &ClientError{Kind: KindMissingRequiredField}
	ErrNoPrivateKey            = &ClientError{Kind: KindNoPrivateKey}
	ErrNotPackableValue        = &ClientError{Kind: KindNotPackableValue}
	ErrIncorrectInput          = &ClientError{Kind: KindIncorrectInput}
	ErrOther                   = &ClientError{Kind: KindOther}
)

// KindOf classifies an arbitrary error into the taxonomy.
// Context deadlines count as timeouts; anything unrecognised is Other.
func KindOf(err error) ErrorKind {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindOperationTimeout
	}
	return KindOther
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Retryable()
}
