package auth

import "github.com/a2v-stg/api-mock-lab/internal/models"

type Access int

const (
	Read Access = iota
	Write
)

// CanAccess grants admins, owners and shared users full access. Public
// entities are readable by anyone, including anonymous callers (nil user).
func CanAccess(u *models.User, e *models.Entity, mode Access) bool {
	if e == nil {
		return false
	}
	if mode == Read && e.IsPublic {
		return true
	}
	if u == nil {
		return false
	}
	if u.IsAdmin || (e.OwnerID != "" && e.OwnerID == u.ID) {
		return true
	}
	return e.IsSharedWith(u.ID)
}

// CanManage is stricter: only admins and owners may delete, share or unshare.
func CanManage(u *models.User, e *models.Entity) bool {
	if u == nil || e == nil {
		return false
	}
	return u.IsAdmin || (e.OwnerID != "" && e.OwnerID == u.ID)
}
