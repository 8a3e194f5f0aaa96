// Package auth resolves a visiting principal into exactly one of three
// outcomes (super admin, organization admin, or denied) and runs the
// provider round-trip that authenticates them.
//
// Two independently-scheduled flows coexist here: the authentication
// backend's principal-change feed and the tenant-provisioning sequence the
// feed races against (creating a principal mid-provisioning fires the
// feed). The resolver tolerates the race with a single fixed-delay re-read
// gated on the provisioning signal, or by awaiting the provisioner's
// completion channel directly when both flows share a process.
package auth
