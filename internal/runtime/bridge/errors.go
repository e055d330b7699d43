package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrNotRegistered = errors.New("context not registered")
	ErrHandleClosed  = errors.New("context handle closed")
)

// Drop reasons
const (
	ReasonOrigin       = "origin"
	ReasonUnregistered = "unregistered"
	ReasonSource       = "source"
	ReasonRate         = "rate"
	ReasonSize         = "size"
	ReasonMalformed    = "malformed"
	ReasonType         = "type"
	ReasonOverflow     = "overflow"
)

// ValidationError describes why a message was dropped. It is for host logs
// and metrics only and is never delivered to the sender.
type ValidationError struct {
	Reason     string
	InstanceID string
	Type       string
	Err        error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("message dropped (%s) instance=%q type=%q", e.Reason, e.InstanceID, e.Type)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
