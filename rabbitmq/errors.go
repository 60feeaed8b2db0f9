package rabbitmq

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Error represents an AMQP error
type Error struct {
	Code   int
	Reason string
	Server bool // true if error originated from server
}

// Error implements the error interface
func (e *Error) Error() string {
	origin := "client"
	if e.Server {
		origin = "server"
	}
	return fmt.Sprintf("AMQP error %d (%s): %s", e.Code, origin, e.Reason)
}

// Predefined errors matching AMQP reply codes
var (
	ErrClosed = &Error{
		Code:   amqp.ConnectionForced,
		Reason: "connection closed",
		Server: false,
	}

	ErrChannelClosed = &Error{
		Code:   amqp.ChannelError,
		Reason: "channel closed",
		Server: false,
	}

	ErrNotFound = &Error{
		Code:   amqp.NotFound,
		Reason: "resource not found",
		Server: true,
	}

	ErrAccessRefused = &Error{
		Code:   amqp.AccessRefused,
		Reason: "access refused",
		Server: true,
	}

	ErrPreconditionFailed = &Error{
		Code:   amqp.PreconditionFailed,
		Reason: "precondition failed",
		Server: true,
	}
)

// NewError creates a new Error from reply code and text
func NewError(code int, reason string, server bool) *Error {
	return &Error{
		Code:   code,
		Reason: reason,
		Server: server,
	}
}

// fromAMQPError converts a close notification from the underlying client.
// A nil input means the connection or channel was shut down without a
// protocol error, which this client treats as an application-initiated close.
func fromAMQPError(err *amqp.Error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:   err.Code,
		Reason: err.Reason,
		Server: err.Server,
	}
}

// wrapAMQPError converts errors surfaced by the wrapped client into this
// package's taxonomy; non-protocol errors pass through unchanged
func wrapAMQPError(err error) error {
	if err == nil {
		return nil
	}
	var ae *amqp.Error
	if errors.As(err, &ae) {
		return fromAMQPError(ae)
	}
	return err
}

// isAuthFailure reports whether err looks like a credential rejection.
// During recovery such errors are retried like any other attempt failure.
func isAuthFailure(err error) bool {
	var ae *amqp.Error
	if errors.As(err, &ae) {
		return ae.Code == amqp.AccessRefused || ae.Code == amqp.NotAllowed
	}
	return false
}
