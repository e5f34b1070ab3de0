// Package authapi exposes the HTTP surface of the session authority:
// device token rotation, CSRF token issuance, logout, and session
// introspection. It is the server half of the client refresh coordinator's
// contract; the wire format is camelCase JSON.
package authapi
