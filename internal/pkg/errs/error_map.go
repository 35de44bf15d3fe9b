package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many messages. Please slow down.", Status: http.StatusTooManyRequests},

	// 2xxx
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrUnsupportedEvent:      {Code: ErrUnsupportedEvent, Message: "Unsupported event: %s."},

	// 3xxx
	ErrUnauthenticated: {Code: ErrUnauthenticated, Message: "Authentication required.", Status: http.StatusUnauthorized},

	// 5xxx
	ErrUnknown:              {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrMessagePersistFailed: {Code: ErrMessagePersistFailed, Message: "Message could not be saved. Please try again.", Status: http.StatusInternalServerError},
}
