package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/gmartinelli/pedidos/internal/domain"
)

// History action descriptions, one per pipeline step. The armado and
// control entries double as the record of who armed/controlled an order.
const (
	ActionCreado            = "Pedido creado"
	ActionArmado            = "Armado finalizado"
	ActionArmadoControlado  = "Armado controlado"
	ActionFacturado         = "Pedido facturado"
	ActionFacturaControlada = "Factura controlada"
	ActionDespachado        = "Pedido despachado"
	ActionEntregado         = "Pedido entregado"
	ActionCobrado           = "Pago registrado"
	ActionPagoConfirmado    = "Pago confirmado"
)

var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrRoleNotAllowed     = errors.New("role not allowed for this transition")
	ErrClaimedByOther     = errors.New("order is being worked on by someone else")
	ErrSamePersonControl  = errors.New("picking must be verified by a different person")
	ErrUnresolvedShortage = errors.New("unchecked items or unrecorded shortages")
	ErrNotPaid            = errors.New("order has not been paid")
	ErrNotClaimable       = errors.New("order is not in a claimable stage")
	ErrCashOnly           = errors.New("immediate payment only applies to cash orders")
)

// TransitionOpts carries per-transition extras. PaidOnDelivery marks a
// cash order paid in the same delivery step.
type TransitionOpts struct {
	PaidOnDelivery bool
	Notes          string
}

type rule struct {
	from   domain.Status
	to     domain.Status
	roles  []domain.Role
	action string
	check  func(o *domain.Order, user domain.User, opts TransitionOpts) error
	apply  func(o *domain.Order, user domain.User, opts TransitionOpts)
}

var rules = []rule{
	{
		from:   domain.StatusEnArmado,
		to:     domain.StatusArmado,
		roles:  []domain.Role{domain.RoleArmador},
		action: ActionArmado,
		check:  checkPickingResolved,
	},
	{
		from:   domain.StatusArmado,
		to:     domain.StatusArmadoControlado,
		roles:  []domain.Role{domain.RoleArmador},
		action: ActionArmadoControlado,
		check:  checkDifferentController,
	},
	{
		from:   domain.StatusArmadoControlado,
		to:     domain.StatusFacturado,
		roles:  []domain.Role{domain.RoleCoordinador},
		action: ActionFacturado,
		apply: func(o *domain.Order, _ domain.User, _ TransitionOpts) {
			total := ComputeTotal(o.Items)
			o.Total = &total
		},
	},
	{
		from:   domain.StatusFacturado,
		to:     domain.StatusFacturaControlada,
		roles:  []domain.Role{domain.RoleArmador},
		action: ActionFacturaControlada,
	},
	{
		from:   domain.StatusFacturaControlada,
		to:     domain.StatusEnCamino,
		roles:  []domain.Role{domain.RoleArmador},
		action: ActionDespachado,
	},
	{
		from:   domain.StatusEnCamino,
		to:     domain.StatusEntregado,
		roles:  []domain.Role{domain.RoleArmador},
		action: ActionEntregado,
		check: func(o *domain.Order, _ domain.User, opts TransitionOpts) error {
			if opts.PaidOnDelivery && !isCash(o) {
				return ErrCashOnly
			}
			return nil
		},
		apply: func(o *domain.Order, _ domain.User, opts TransitionOpts) {
			// Delivery resets the paid flag; cash may be collected on
			// the doorstep and marked immediately.
			o.IsPaid = opts.PaidOnDelivery && isCash(o)
		},
	},
	{
		from:   domain.StatusEntregado,
		to:     domain.StatusPagado,
		roles:  []domain.Role{domain.RoleCoordinador, domain.RoleArmador},
		action: ActionCobrado,
		check: func(o *domain.Order, _ domain.User, _ TransitionOpts) error {
			if !o.IsPaid {
				return ErrNotPaid
			}
			return nil
		},
	},
}

func isCash(o *domain.Order) bool {
	return o.PaymentMethod != nil && *o.PaymentMethod == domain.PaymentEfectivo
}

// checkPickingResolved requires every line item checked and every
// shortage covered by a missing-item record before picking can finish.
func checkPickingResolved(o *domain.Order, _ domain.User, _ TransitionOpts) error {
	recorded := make(map[string]bool, len(o.Missing))
	for _, m := range o.Missing {
		recorded[m.LineItemID] = true
	}
	for _, item := range o.Items {
		if !item.Checked {
			return fmt.Errorf("%w: item %q not checked", ErrUnresolvedShortage, item.Name)
		}
		if item.OriginalQuantity != nil && item.Quantity < *item.OriginalQuantity && !recorded[item.ID] {
			return fmt.Errorf("%w: shortage of %q not recorded", ErrUnresolvedShortage, item.Name)
		}
	}
	return nil
}

// checkDifferentController enforces the four-eyes rule: whoever finished
// the picking cannot also verify it. The armador is derived from the
// history entry of the armado transition.
func checkDifferentController(o *domain.Order, user domain.User, _ TransitionOpts) error {
	if armedBy := o.ActorOf(ActionArmado); armedBy != "" && armedBy == user.Name {
		return ErrSamePersonControl
	}
	return nil
}

// Apply performs the transition of o to target on behalf of user. On
// success the order is mutated in place and exactly one history entry is
// appended; on any error the order is untouched. Preconditions are
// checked here, before any persistence call.
func Apply(o *domain.Order, target domain.Status, user domain.User, now time.Time, opts TransitionOpts) error {
	r := findRule(o.Status, target)
	if r == nil {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
	}
	if !roleAllowed(r.roles, user.Role) {
		return fmt.Errorf("%w: %s may not move %s -> %s", ErrRoleNotAllowed, user.Role, r.from, r.to)
	}
	if o.Claimed() && !o.ClaimedBy(user.Name) && user.Role != domain.RoleCoordinador {
		return ErrClaimedByOther
	}
	if r.check != nil {
		if err := r.check(o, user, opts); err != nil {
			return err
		}
	}

	o.Status = target
	if r.apply != nil {
		r.apply(o, user, opts)
	}
	appendHistory(o, r.action, user, now, opts.Notes)
	return nil
}

// ConfirmPayment clears the awaiting-payment state by setting the paid
// flag. Transfers need the coordinator's confirmation; cash and cheque
// may be confirmed by either role.
func ConfirmPayment(o *domain.Order, user domain.User, now time.Time) error {
	if o.Status != domain.StatusEntregado {
		return fmt.Errorf("%w: payment confirmation requires a delivered order", ErrInvalidTransition)
	}
	if o.PaymentMethod != nil && *o.PaymentMethod == domain.PaymentTransferencia &&
		user.Role != domain.RoleCoordinador {
		return fmt.Errorf("%w: transfer payments are confirmed by the coordinator", ErrRoleNotAllowed)
	}
	if o.IsPaid {
		return nil
	}
	o.IsPaid = true
	appendHistory(o, ActionPagoConfirmado, user, now, "")
	return nil
}

func findRule(from, to domain.Status) *rule {
	for i := range rules {
		if rules[i].from == from && rules[i].to == to {
			return &rules[i]
		}
	}
	return nil
}

func roleAllowed(roles []domain.Role, role domain.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func appendHistory(o *domain.Order, action string, user domain.User, now time.Time, notes string) {
	o.History = append(o.History, domain.HistoryEntry{
		ID:        domain.NewEntryID(),
		Action:    action,
		UserName:  user.Name,
		Timestamp: now,
		Notes:     notes,
	})
}

// ComputeTotal sums the line items: an explicit subtotal wins, otherwise
// quantity times unit price.
func ComputeTotal(items []domain.LineItem) float64 {
	total := 0.0
	for _, item := range items {
		switch {
		case item.Subtotal != nil:
			total += *item.Subtotal
		case item.UnitPrice != nil:
			total += float64(item.Quantity) * *item.UnitPrice
		}
	}
	return total
}

// ValidateItems enforces the shortage invariant: once an original
// quantity snapshot exists, the current quantity may only shrink.
func ValidateItems(items []domain.LineItem) error {
	for _, item := range items {
		if item.OriginalQuantity != nil && item.Quantity > *item.OriginalQuantity {
			return fmt.Errorf("item %q: quantity %d exceeds original %d",
				item.Name, item.Quantity, *item.OriginalQuantity)
		}
	}
	return nil
}
