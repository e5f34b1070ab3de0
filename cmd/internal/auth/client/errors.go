package client

import "errors"

var (
	// ErrNoCredentials is returned when the store holds no usable bundle.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrMalformedCredentials is returned when a persisted bundle cannot be decoded.
	// This is the one truly unexpected condition in this package; everything else
	// is reported as a typed outcome.
	ErrMalformedCredentials = errors.New("malformed stored credentials")

	// ErrAuthenticationFailed is the terminal error handed to queued callers
	// when the shared refresh they were waiting on hard-fails.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid client config")
)
