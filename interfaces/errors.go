package interfaces

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failures the forge reports to callers.
// Kinds are serialized to fixed numeric codes at the API boundary only.
type ErrorKind int

const (
	NotAuthorized ErrorKind = iota + 1
	TemplateNotFound
	TemplateAlreadyExists
	InvalidTemplate
	ContractGenerationFailed
)

// Wire codes. External callers branch on these values; they must never change.
var errorCodes = map[ErrorKind]uint32{
	NotAuthorized:            1000,
	TemplateNotFound:         1001,
	TemplateAlreadyExists:    1002,
	InvalidTemplate:          1003,
	ContractGenerationFailed: 1004,
}

// Code returns the stable wire code, or 0 for an unknown kind.
func (k ErrorKind) Code() uint32 {
	return errorCodes[k]
}

// ErrorKindFromCode maps a wire code back to its kind.
func ErrorKindFromCode(code uint32) (ErrorKind, bool) {
	for kind, c := range errorCodes {
		if c == code {
			return kind, true
		}
	}
	return 0, false
}

func (k ErrorKind) String() string {
	switch k {
	case NotAuthorized:
		return "not authorized"
	case TemplateNotFound:
		return "template not found"
	case TemplateAlreadyExists:
		return "template already exists"
	case InvalidTemplate:
		return "invalid template"
	case ContractGenerationFailed:
		return "contract generation failed"
	default:
		return fmt.Sprintf("unknown error kind %d", int(k))
	}
}

// ForgeError is a typed, recoverable failure of a forge operation.
// Returning one guarantees that no state was changed.
type ForgeError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ForgeError) Error() string {
	s := fmt.Sprintf("%s (%d)", e.Kind, e.Kind.Code())
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ForgeError) Unwrap() error {
	return e.Err
}

// Is matches any ForgeError of the same kind, so the Err* sentinels can be
// used with errors.Is.
func (e *ForgeError) Is(target error) bool {
	t, ok := target.(*ForgeError)
	return ok && t.Kind == e.Kind
}

// Code returns the wire code of the error kind.
func (e *ForgeError) Code() uint32 {
	return e.Kind.Code()
}

var (
	ErrNotAuthorized            = &ForgeError{Kind: NotAuthorized}
	ErrTemplateNotFound         = &ForgeError{Kind: TemplateNotFound}
	ErrTemplateAlreadyExists    = &ForgeError{Kind: TemplateAlreadyExists}
	ErrInvalidTemplate          = &ForgeError{Kind: InvalidTemplate}
	ErrContractGenerationFailed = &ForgeError{Kind: ContractGenerationFailed}
)

// NewForgeError builds a ForgeError with a formatted message.
func NewForgeError(kind ErrorKind, format string, args ...any) *ForgeError {
	return &ForgeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapForgeError builds a ForgeError carrying an underlying cause.
func WrapForgeError(kind ErrorKind, err error, format string, args ...any) *ForgeError {
	return &ForgeError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the error kind from err, if it is (or wraps) a ForgeError.
func KindOf(err error) (ErrorKind, bool) {
	var fe *ForgeError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

var (
	// ErrAlreadyInitialized is returned by a second initialization attempt.
	ErrAlreadyInitialized = errors.New("registry already initialized")

	// ErrEventNotFound is returned when looking up an unknown event id.
	ErrEventNotFound = errors.New("generation event not found")
)
