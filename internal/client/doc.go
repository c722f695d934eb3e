// Package client is the Go consumer of the reaction service API: a thin
// HTTP client plus a reconciler that keeps a locally displayed snapshot in
// sync with server truth. The reconciler applies a user's tap optimistically,
// confirms it against the submit response, and rolls the display back
// wholesale when the call fails.
package client
