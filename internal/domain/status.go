package domain

import "fmt"

// Status is the position of an order in the fulfillment pipeline.
// Wire values match the original system's Spanish status strings.
type Status string

const (
	StatusEnArmado          Status = "en_armado"
	StatusArmado            Status = "armado"
	StatusArmadoControlado  Status = "armado_controlado"
	StatusFacturado         Status = "facturado"
	StatusFacturaControlada Status = "factura_controlada"
	StatusEnCamino          Status = "en_camino"
	StatusEntregado         Status = "entregado"
	StatusPagado            Status = "pagado"
)

// Pipeline lists the statuses in pipeline order. StatusEnArmado is
// initial, StatusPagado is terminal.
var Pipeline = []Status{
	StatusEnArmado,
	StatusArmado,
	StatusArmadoControlado,
	StatusFacturado,
	StatusFacturaControlada,
	StatusEnCamino,
	StatusEntregado,
	StatusPagado,
}

func (s Status) String() string { return string(s) }

func (s Status) Valid() bool {
	for _, st := range Pipeline {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is defined from s.
func (s Status) Terminal() bool { return s == StatusPagado }

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

type PaymentMethod string

const (
	PaymentEfectivo      PaymentMethod = "efectivo"
	PaymentTransferencia PaymentMethod = "transferencia"
	PaymentCheque        PaymentMethod = "cheque"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentEfectivo, PaymentTransferencia, PaymentCheque:
		return true
	}
	return false
}
