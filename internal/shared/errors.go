package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrActorRequired indicates the request carried no actor identity.
	ErrActorRequired = errors.New("actor identity required")
)
