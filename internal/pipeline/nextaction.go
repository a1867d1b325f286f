package pipeline

import "github.com/gmartinelli/pedidos/internal/domain"

// Action is the single suggested next step for a user on an order. A
// transition action names its target status; ConfirmPayment actions set
// Confirm instead.
type Action struct {
	Label   string        `json:"label"`
	Target  domain.Status `json:"target,omitempty"`
	Confirm bool          `json:"confirm_payment,omitempty"`
}

// NextAction resolves at most one suggested action by matching role and
// status against the operator table first, then the coordinator table.
// It returns nil when no rule matches: terminal orders, or an order
// claimed by another operator.
func NextAction(o *domain.Order, user domain.User) *Action {
	if o.Status.Terminal() {
		return nil
	}

	if user.Role == domain.RoleArmador {
		if o.Claimed() && !o.ClaimedBy(user.Name) {
			return nil
		}
		switch o.Status {
		case domain.StatusEnArmado:
			return &Action{Label: "Finalizar armado", Target: domain.StatusArmado}
		case domain.StatusArmado:
			if o.ActorOf(ActionArmado) != user.Name {
				return &Action{Label: "Controlar armado", Target: domain.StatusArmadoControlado}
			}
		case domain.StatusFacturado:
			return &Action{Label: "Controlar factura", Target: domain.StatusFacturaControlada}
		case domain.StatusFacturaControlada:
			return &Action{Label: "Despachar pedido", Target: domain.StatusEnCamino}
		case domain.StatusEnCamino:
			return &Action{Label: "Marcar entregado", Target: domain.StatusEntregado}
		case domain.StatusEntregado:
			if o.IsPaid {
				return &Action{Label: "Registrar cobro", Target: domain.StatusPagado}
			}
		}
		return nil
	}

	switch o.Status {
	case domain.StatusArmadoControlado:
		return &Action{Label: "Facturar pedido", Target: domain.StatusFacturado}
	case domain.StatusEntregado:
		if !o.IsPaid {
			return &Action{Label: "Confirmar pago", Confirm: true}
		}
		return &Action{Label: "Registrar cobro", Target: domain.StatusPagado}
	}
	return nil
}
