package pipeline

import "github.com/gmartinelli/pedidos/internal/domain"

// Bucket is the derived classification of an order, recomputed from the
// current snapshot and never stored.
type Bucket string

const (
	BucketActivos     Bucket = "activos"
	BucketPorCobrar   Bucket = "por_cobrar"
	BucketCompletados Bucket = "completados"
)

// BucketOf places an order in exactly one bucket: paid orders are
// completed, delivered-but-unpaid orders await payment, everything else
// is active.
func BucketOf(o *domain.Order) Bucket {
	switch {
	case o.Status == domain.StatusPagado:
		return BucketCompletados
	case o.Status == domain.StatusEntregado && !o.IsPaid:
		return BucketPorCobrar
	default:
		return BucketActivos
	}
}

// Buckets is a partition of a snapshot: every order appears in exactly
// one slice.
type Buckets struct {
	Activos     []domain.Order `json:"activos"`
	PorCobrar   []domain.Order `json:"por_cobrar"`
	Completados []domain.Order `json:"completados"`
}

func Partition(orders []domain.Order) Buckets {
	var b Buckets
	for _, o := range orders {
		switch BucketOf(&o) {
		case BucketCompletados:
			b.Completados = append(b.Completados, o)
		case BucketPorCobrar:
			b.PorCobrar = append(b.PorCobrar, o)
		default:
			b.Activos = append(b.Activos, o)
		}
	}
	return b
}
