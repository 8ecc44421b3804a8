// Package domain holds the core value types and error taxonomy shared by the
// use case services and storage backends.
package domain

import "errors"

var (
	// ErrDecode signals a malformed base64 or compressed code string.
	ErrDecode = errors.New("malformed code string")
	// ErrEmptyFingerprint signals a decode that produced zero codes.
	ErrEmptyFingerprint = errors.New("no valid fingerprint codes")
	// ErrValidation signals a missing or invalid request field.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyExists signals an ingest for an already-stored track id.
	ErrAlreadyExists = errors.New("track already exists")
	// ErrTrackNotFound signals a lookup for an unknown track id.
	ErrTrackNotFound = errors.New("track not found")
)
