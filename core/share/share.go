/*Package share implements the share-link capability model: permission
sets, the derived link status and the authorization decision for client
requests arriving with a bearer share token.
*/
package share

import (
	"errors"
	"fmt"
	"time"

	"github.com/unipanel/backend/core"
)

// errors returned by Authorize and FormFields
var (
	// ErrAccessDenied is the externally visible error class for expired
	// and revoked links. The two are deliberately indistinguishable for
	// the caller so that probing a token does not reveal whether it was
	// ever valid. Internally they remain distinguishable via
	// ErrLinkExpired and ErrLinkRevoked for audit logging.
	ErrAccessDenied = errors.New("access denied")
	// ErrLinkExpired marks links whose expiry timestamp has passed
	ErrLinkExpired = fmt.Errorf("link expired: %w", ErrAccessDenied)
	// ErrLinkRevoked marks links that were deactivated by the developer
	ErrLinkRevoked = fmt.Errorf("link revoked: %w", ErrAccessDenied)
	// ErrPermissionDenied is returned when the link is usable but does
	// not grant the requested operation
	ErrPermissionDenied = errors.New("permission denied")
)

// Permissions is the set of operations a share link grants. Permission is
// all-or-nothing per operation across the whole collection, there is no
// field-level authorization.
type Permissions struct {
	CanView         bool `json:"can_view"`
	CanInsert       bool `json:"can_insert"`
	CanUpdate       bool `json:"can_update"`
	CanDelete       bool `json:"can_delete"`
	CanModifySchema bool `json:"can_modify_schema"`
}

// Status is the derived lifecycle state of a share link. It is never
// stored, it is computed from the active flag and the expiry timestamp.
type Status string

const (
	// StatusActive links accept operations their permissions allow
	StatusActive Status = "active"
	// StatusExpired links reject all operations. Terminal.
	StatusExpired Status = "expired"
	// StatusRevoked links reject all operations. Terminal.
	StatusRevoked Status = "revoked"
)

// StatusOf derives the link status. Expiry is checked first: a link past
// its expiry reports expired even while its active flag is still set.
func StatusOf(isActive bool, expiresAt *time.Time, now time.Time) Status {
	if expiresAt != nil && expiresAt.Before(now) {
		return StatusExpired
	}
	if !isActive {
		return StatusRevoked
	}
	return StatusActive
}

// CheckStatus translates a non-active status into its error. Callers
// without a specific operation, like the share info endpoint, gate on
// the status alone: possession of a live token is enough to learn what
// the link offers.
func CheckStatus(st Status) error {
	switch st {
	case StatusExpired:
		return ErrLinkExpired
	case StatusRevoked:
		return ErrLinkRevoked
	}
	return nil
}

// Authorize decides whether a link in the given status with the given
// permissions may perform the operation. The status gate runs before any
// permission flag is consulted.
func Authorize(p Permissions, op core.Operation, st Status) error {
	if err := CheckStatus(st); err != nil {
		return err
	}

	allowed := false
	switch op {
	case core.OperationView:
		allowed = p.CanView
	case core.OperationInsert:
		allowed = p.CanInsert
	case core.OperationUpdate:
		allowed = p.CanUpdate
	case core.OperationDelete:
		allowed = p.CanDelete
	case core.OperationModifySchema:
		allowed = p.CanModifySchema
	}
	if !allowed {
		return fmt.Errorf("operation %s: %w", op, ErrPermissionDenied)
	}
	return nil
}
