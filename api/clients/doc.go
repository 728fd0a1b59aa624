// Package clients provides a Go client for the forge HTTP API. Mutating
// calls are signed with the client's key; domain errors are decoded back
// into *interfaces.ForgeError so callers can use errors.Is against the
// interfaces sentinels.
package clients
