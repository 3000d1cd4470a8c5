package apperr

import "errors"

// Reason codes carried to clients on rejection envelopes.
const (
	ReasonMalformed        = "malformed"
	ReasonExpired          = "expired"
	ReasonRevoked          = "revoked"
	ReasonNotAParticipant  = "not-a-participant"
	ReasonEmptyContent     = "empty-content"
	ReasonNotSubscribed    = "not-subscribed"
	ReasonUnknownEvent     = "unknown-event"
	ReasonMalformedPayload = "malformed-payload"
)

var (
	ErrTokenMalformed  = errors.New("token malformed")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenRevoked    = errors.New("token revoked")
	ErrNotAParticipant = errors.New("not a participant")
	ErrEmptyContent    = errors.New("empty content")
	ErrNotSubscribed   = errors.New("not subscribed to conversation")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrSessionNotFound      = errors.New("session not found")
)

// Reason maps a domain error to its wire reason code. Unknown errors map
// to an empty string so callers can fall back to a generic rejection.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, ErrTokenRevoked):
		return ReasonRevoked
	case errors.Is(err, ErrNotAParticipant), errors.Is(err, ErrConversationNotFound):
		// a non-member learns nothing about whether the conversation exists
		return ReasonNotAParticipant
	case errors.Is(err, ErrEmptyContent):
		return ReasonEmptyContent
	case errors.Is(err, ErrNotSubscribed):
		return ReasonNotSubscribed
	}
	return ""
}

// IsAuthRejection reports whether err closes the connection (admission
// failures do, everything else stays scoped to one operation).
func IsAuthRejection(err error) bool {
	return errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked)
}
