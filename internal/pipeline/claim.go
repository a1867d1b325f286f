package pipeline

import (
	"time"

	"github.com/gmartinelli/pedidos/internal/domain"
)

// claimable statuses: the picking and verification stage, where two
// operators accidentally doing the same work is the real hazard.
func claimable(s domain.Status) bool {
	return s == domain.StatusEnArmado || s == domain.StatusArmado
}

// CanEdit reports whether user may open the order for editing. The
// coordinator is exempt from claims and may always edit; an operator is
// denied while another operator holds the claim.
func CanEdit(o *domain.Order, user domain.User) bool {
	if user.Role == domain.RoleCoordinador {
		return true
	}
	return !o.Claimed() || o.ClaimedBy(user.Name)
}

// Claim places the advisory "currently working" marker. It is a UI-level
// guard against double work, not a distributed lock: within the staleness
// window two clients can both observe an unclaimed order, and the backend
// conditional write decides the winner.
func Claim(o *domain.Order, user domain.User, now time.Time) error {
	if !claimable(o.Status) {
		return ErrNotClaimable
	}
	if o.Claimed() && !o.ClaimedBy(user.Name) {
		return ErrClaimedByOther
	}
	o.SetClaim(user.Name, now)
	return nil
}

// Release drops the claim. Releasing an unclaimed order is a no-op that
// still succeeds; a user never releases someone else's claim.
func Release(o *domain.Order, user domain.User) {
	if !o.Claimed() || o.ClaimedBy(user.Name) {
		o.ClearClaim()
	}
}
