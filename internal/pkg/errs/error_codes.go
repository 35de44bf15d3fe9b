/*
Package errs provides custom error types and application-level error code constants.

The codes identify business and system errors both in HTTP JSON responses and in the
chat:error events pushed to WebSocket clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request or message rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Chat Content Errors
const (
	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrUnsupportedEvent indicates that the client sent an event type the gateway does not handle.
	ErrUnsupportedEvent = 2202
)

// 3xxx: Session and Security Errors
const (
	// ErrUnauthenticated indicates a missing, malformed or expired bearer token.
	ErrUnauthenticated = 3005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrMessagePersistFailed indicates the message store rejected or failed to store a message.
	ErrMessagePersistFailed = 5002
)
