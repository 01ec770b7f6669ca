package fault

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	PermissionDenied
	PermanentlyDenied
	LocationDisabled
	InaccurateFix
	StaleFix
	Timeout
	NetworkUnavailable
	Unauthenticated
	SharingDisabled
	Forbidden
	MalformedPayload
	PermissionRevoked
	ServerError
	InvalidSequence
)

var kindNames = map[Kind]string{
	Unknown:            "Unknown",
	PermissionDenied:   "PermissionDenied",
	PermanentlyDenied:  "PermanentlyDenied",
	LocationDisabled:   "LocationDisabled",
	InaccurateFix:      "InaccurateFix",
	StaleFix:           "StaleFix",
	Timeout:            "Timeout",
	NetworkUnavailable: "NetworkUnavailable",
	Unauthenticated:    "Unauthenticated",
	SharingDisabled:    "SharingDisabled",
	Forbidden:          "Forbidden",
	MalformedPayload:   "MalformedPayload",
	PermissionRevoked:  "PermissionRevoked",
	ServerError:        "ServerError",
	InvalidSequence:    "InvalidSequence",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Hint is the recovery hint shown next to errors that halt tracking.
func (k Kind) Hint() string {
	switch k {
	case PermissionDenied, PermanentlyDenied, PermissionRevoked:
		return "open settings and allow location access"
	case LocationDisabled:
		return "open settings and turn on location services"
	case Unauthenticated:
		return "sign in again"
	case SharingDisabled:
		return "enable location sharing"
	}
	return ""
}

// Error carries a Kind through wrapping. Two errors match with errors.Is when
// their kinds are equal.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrPermissionDenied   = &Error{Kind: PermissionDenied}
	ErrPermanentlyDenied  = &Error{Kind: PermanentlyDenied}
	ErrLocationDisabled   = &Error{Kind: LocationDisabled}
	ErrInaccurateFix      = &Error{Kind: InaccurateFix}
	ErrStaleFix           = &Error{Kind: StaleFix}
	ErrTimeout            = &Error{Kind: Timeout}
	ErrNetworkUnavailable = &Error{Kind: NetworkUnavailable}
	ErrUnauthenticated    = &Error{Kind: Unauthenticated}
	ErrSharingDisabled    = &Error{Kind: SharingDisabled}
	ErrForbidden          = &Error{Kind: Forbidden}
	ErrMalformedPayload   = &Error{Kind: MalformedPayload}
	ErrPermissionRevoked  = &Error{Kind: PermissionRevoked}
	ErrServerError        = &Error{Kind: ServerError}
	ErrInvalidSequence    = &Error{Kind: InvalidSequence}
)

func New(kind Kind, op string) error {
	return &Error{Kind: kind, Op: op}
}

func Wrap(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of the outermost *Error in err's chain. A bare
// context deadline is reported as Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Unknown
}
