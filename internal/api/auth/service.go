// Package auth provides the authentication collaborator used to gate read
// endpoints. Ingestion endpoints never consult it: remote units submit
// batches without credentials.
package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/cora-robotics/cora-server/internal/errors"
)

// Principal identifies an authenticated caller.
type Principal struct {
	Subject string // stable caller identity
	TokenID string // unique token identifier (jti)
}

// Service is the authentication point of contact for the API layer. The API
// never interprets credentials itself; it asks the service and branches on
// the outcome.
type Service interface {
	// Authenticate extracts and verifies credentials from the request.
	// Returns the caller's principal, or an error carrying
	// CategoryAuthentication when credentials are missing or invalid.
	Authenticate(ctx echo.Context) (*Principal, error)

	// Authorize reports whether the principal may access the named resource.
	Authorize(principal *Principal, resource string) bool

	// IssueToken mints a credential for the given identity. Used by
	// operator tooling, not by the request path.
	IssueToken(subject string) (string, error)

	// Enabled reports whether authentication is enforced at all. When
	// false, read endpoints are open and Authenticate is never called.
	Enabled() bool
}

// authError builds a categorized authentication failure.
func authError(message string) error {
	return errors.Newf("%s", message).
		Component("auth").
		Category(errors.CategoryAuthentication).
		Build()
}
