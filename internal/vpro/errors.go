package vpro

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by this package is an *Error whose
// Kind is one of these, so callers can use errors.Is(err, ErrProtocolTimeout).
var (
	ErrValidation      = errors.New("validation error")
	ErrConnection      = errors.New("connection error")
	ErrIO              = errors.New("i/o error")
	ErrProtocolTimeout = errors.New("protocol timeout")
	ErrProtocol        = errors.New("protocol error")
	ErrEncoding        = errors.New("encoding error")
	ErrCancelled       = errors.New("cancelled")
)

// Phase names the step of a device operation that failed.
type Phase string

const (
	PhaseValidate Phase = "validate"
	PhaseConnect  Phase = "connect"
	PhaseResolve  Phase = "resolve"
	PhaseEncode   Phase = "encode"
	PhaseExchange Phase = "exchange"
	PhaseDecode   Phase = "decode"
)

// Error is a classified device operation failure.
type Error struct {
	Kind   error
	Phase  Phase
	Device string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "vpro: " + e.Kind.Error()
	if e.Phase != "" {
		msg += " during " + string(e.Phase)
	}
	if e.Device != "" {
		msg += " (" + e.Device + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, phase Phase, detail string, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Detail: detail, Err: err}
}

func validationErrorf(format string, args ...any) *Error {
	return newError(ErrValidation, PhaseValidate, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the error kind of err, or nil if err did not come from
// this package.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// annotate fills in the device and, if unset, the phase of a package error.
func annotate(err error, phase Phase, addr DeviceAddress) error {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(ErrIO, phase, "", err)
	}
	if e.Phase == "" {
		e.Phase = phase
	}
	if e.Device == "" {
		e.Device = addr.String()
	}
	return e
}
