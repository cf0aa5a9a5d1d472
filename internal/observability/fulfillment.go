package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics counts allocation, ledger and COD outcomes.
// All methods are safe on a nil receiver.
type FulfillmentMetrics struct {
	allocations    *prometheus.CounterVec
	stockDocuments *prometheus.CounterVec
	codChecks      *prometheus.CounterVec
	ledgerMismatch prometheus.Counter
}

// NewFulfillmentMetrics registers the domain counters on reg.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	m := &FulfillmentMetrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_allocations_total",
			Help: "Allocation attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		stockDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_stock_documents_total",
			Help: "Stock ledger documents written or voided by type.",
		}, []string{"type", "action"}),
		codChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_cod_validations_total",
			Help: "COD box reconciliations by result.",
		}, []string{"result"}),
		ledgerMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_ledger_inconsistent_lots_total",
			Help: "Lots found with remaining quantity diverging from the ledger.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.allocations, m.stockDocuments, m.codChecks, m.ledgerMismatch)
	}
	return m
}

// ObserveAllocation records an allocation outcome such as "ok" or "insufficient_stock".
func (m *FulfillmentMetrics) ObserveAllocation(operation, outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(operation, outcome).Inc()
}

// ObserveStockDocument records a ledger document action ("created", "voided").
func (m *FulfillmentMetrics) ObserveStockDocument(docType, action string) {
	if m == nil {
		return
	}
	m.stockDocuments.WithLabelValues(docType, action).Inc()
}

// ObserveCODValidation records a reconciliation result.
func (m *FulfillmentMetrics) ObserveCODValidation(valid bool) {
	if m == nil {
		return
	}
	result := "mismatch"
	if valid {
		result = "match"
	}
	m.codChecks.WithLabelValues(result).Inc()
}

// ObserveLedgerMismatch adds inconsistent lots found by a verification run.
func (m *FulfillmentMetrics) ObserveLedgerMismatch(lots int) {
	if m == nil || lots <= 0 {
		return
	}
	m.ledgerMismatch.Add(float64(lots))
}
