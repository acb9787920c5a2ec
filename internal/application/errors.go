// Package application contains the use-case services of the key pool.
package application

import "errors"

// Sentinel errors returned by application services. Store-level errors
// (driven.ErrKeyNotFound, driven.ErrKeyAlreadyExists) pass through wrapped.
var (
	ErrInvalidKey         = errors.New("invalid key")
	ErrInvalidTestRequest = errors.New("invalid test request")
	ErrNoKeysToTest       = errors.New("no keys to test")
	ErrNoActiveKeys       = errors.New("no active keys")
	ErrInvalidSettings    = errors.New("invalid settings")
	ErrUpstream           = errors.New("upstream request failed")
)
