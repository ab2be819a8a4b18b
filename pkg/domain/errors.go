package domain

import "errors"

var (
	// ErrMalformedRequest indicates a required request field is missing. The
	// engine fails closed with ReasonMalformedRequest.
	ErrMalformedRequest = errors.New("domain: malformed decision request")
	// ErrCatalogUnavailable indicates no rule catalog has been loaded yet. The
	// engine fails closed with ReasonCatalogUnavailable; callers may retry.
	ErrCatalogUnavailable = errors.New("domain: rule catalog unavailable")
)
