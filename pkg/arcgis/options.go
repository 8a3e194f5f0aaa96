package arcgis

import "net/http"

// Option configures the ArcGIS provider.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient sets a custom HTTP client for portal requests.
// Useful for testing with httptest servers or injecting custom transports.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}
