package shared

import "errors"

var (
	// ErrActorRequired occurs when a mutating request carries no user identity.
	ErrActorRequired = errors.New("actor identity required")
	// ErrActorInvalid occurs when the user identity header is malformed.
	ErrActorInvalid = errors.New("actor identity invalid")
)
