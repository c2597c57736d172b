package client

import "fmt"

// ValidationError rejects a mutation before any request is sent. The
// local view is untouched and no network round trip happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// RequestError is a non-2xx API response. Message carries the server's
// error text when the body had one, else a synthesized "<status> error".
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return e.Message
}

// ParseError is a push-channel frame whose body was not a valid event.
// The stream degrades to a blind refresh signal rather than failing.
type ParseError struct {
	Data string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed push event %q: %v", e.Data, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ChannelError is a dropped push connection. It is never fatal: the
// stream schedules a reconnect and keeps going.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("push channel dropped: %v", e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
