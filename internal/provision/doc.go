// Package provision creates new tenants from verified signup callbacks:
// it bridges the provider identity onto the password backend, generates a
// unique tenant slug, and writes the organization/user/admin document triad.
//
// The provisioning sequence runs concurrently with the authentication
// backend's principal-change feed; the Board is the only coordination point
// between the two flows. Creating the principal mid-sequence fires that
// feed, so the role resolver may run before the tenant documents land;
// the Board's flags and completion channels are what let it tell "not yet"
// from "never".
package provision
