package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Code identifies a business error. Callers branch on Code, never on message text.
type Code string

const (
	// Validation
	CodeInvalidFeature Code = "INVALID_FEATURE"
	CodeInvalidAmount  Code = "INVALID_AMOUNT"
	CodeInvalidPlan    Code = "INVALID_PLAN"
	CodeInvalidCycle   Code = "INVALID_CYCLE"

	// Not found
	CodeOrgNotFound         Code = "ORG_NOT_FOUND"
	CodeNoCreditsRecord     Code = "NO_CREDITS_RECORD"
	CodeConsumptionNotFound Code = "CONSUMPTION_NOT_FOUND"
	CodePaymentNotFound     Code = "PAYMENT_NOT_FOUND"

	// State conflict
	CodeInsufficientCredits         Code = "INSUFFICIENT_CREDITS"
	CodeSubscriptionInactive        Code = "SUBSCRIPTION_INACTIVE"
	CodeSubscriptionGracePeriod     Code = "SUBSCRIPTION_GRACE_PERIOD"
	CodeSubscriptionExpired         Code = "SUBSCRIPTION_EXPIRED"
	CodePaymentNotConfirmed         Code = "PAYMENT_NOT_CONFIRMED"
	CodeInvalidStatusTransition     Code = "INVALID_STATUS_TRANSITION"
	CodeConsumptionAlreadyFinalized Code = "CONSUMPTION_ALREADY_FINALIZED"

	// Authorization
	CodeForbidden           Code = "FORBIDDEN"
	CodeConsumptionNotOwned Code = "CONSUMPTION_NOT_OWNED"
)

// Class groups codes by how a caller should react to them
type Class string

const (
	ClassValidation    Class = "validation"
	ClassNotFound      Class = "not_found"
	ClassConflict      Class = "conflict"
	ClassAuthorization Class = "authorization"
	ClassUnknown       Class = "unknown"
)

// Error is a structured business error. It serializes to
// {code, message, messageLocalized, ...fields}.
type Error struct {
	Code             Code
	Message          string
	MessageLocalized string
	Fields           map[string]any
}

// New builds an error for code using the default bilingual messages.
func New(code Code) *Error {
	msg, ok := messages[code]
	if !ok {
		msg = localized{en: string(code), ar: string(code)}
	}
	return &Error{
		Code:             code,
		Message:          msg.en,
		MessageLocalized: msg.ar,
	}
}

// Newf builds an error for code with a custom English message. The localized
// message keeps the default text for the code.
func Newf(code Code, format string, args ...any) *Error {
	e := New(code)
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// With attaches a context field and returns the receiver for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// Field returns a context field by key.
func (e *Error) Field(key string) (any, bool) {
	v, ok := e.Fields[key]
	return v, ok
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := fmt.Sprintf("%s: %s (", e.Code, e.Message)
	for i, k := range keys {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%v", k, e.Fields[k])
	}
	return s + ")"
}

// Is matches another *Error with the same code, so errors.Is(err, apperr.New(code)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Class reports the category of the error's code.
func (e *Error) Class() Class {
	return ClassOf(e.Code)
}

// MarshalJSON flattens context fields next to code and messages.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["code"] = e.Code
	out["message"] = e.Message
	out["messageLocalized"] = e.MessageLocalized
	return json.Marshal(out)
}

// ClassOf returns the class of a code.
func ClassOf(code Code) Class {
	switch code {
	case CodeInvalidFeature, CodeInvalidAmount, CodeInvalidPlan, CodeInvalidCycle:
		return ClassValidation
	case CodeOrgNotFound, CodeNoCreditsRecord, CodeConsumptionNotFound, CodePaymentNotFound:
		return ClassNotFound
	case CodeInsufficientCredits, CodeSubscriptionInactive, CodeSubscriptionGracePeriod,
		CodeSubscriptionExpired, CodePaymentNotConfirmed, CodeInvalidStatusTransition,
		CodeConsumptionAlreadyFinalized:
		return ClassConflict
	case CodeForbidden, CodeConsumptionNotOwned:
		return ClassAuthorization
	default:
		return ClassUnknown
	}
}

// As extracts the *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or "" for non-business errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
