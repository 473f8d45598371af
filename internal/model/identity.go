package model

import "github.com/google/uuid"

// Identity is the requester forwarded by the upstream gateway. A nil
// *Identity means a trusted internal caller (reconciler, webhook dispatch)
// and bypasses ownership checks, as do administrators.
type Identity struct {
	UserID uuid.UUID
	Admin  bool
}

// CanAccess reports whether the identity may read or mutate a resource owned
// by ownerID.
func (i *Identity) CanAccess(ownerID uuid.UUID) bool {
	return i == nil || i.Admin || i.UserID == ownerID
}

// IsAdmin reports administrator privileges. Nil identities are internal
// callers and count as administrative.
func (i *Identity) IsAdmin() bool {
	return i == nil || i.Admin
}
