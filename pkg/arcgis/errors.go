package arcgis

import "errors"

var (
	// ErrMissingClientID is returned when the OAuth client ID is not provided.
	ErrMissingClientID = errors.New("arcgis: missing client ID")

	// ErrNilResponse is returned when the portal returns a nil response.
	ErrNilResponse = errors.New("arcgis: nil response from portal")

	// ErrFetchFailed is returned when a request to the portal fails.
	ErrFetchFailed = errors.New("arcgis: failed to fetch from portal")

	// ErrRequestFailed is returned when the portal reports an error,
	// either as a non-OK status or as an embedded error envelope.
	ErrRequestFailed = errors.New("arcgis: portal request failed")

	// ErrDecodeFailed is returned when decoding a portal response fails.
	ErrDecodeFailed = errors.New("arcgis: failed to decode portal response")
)
