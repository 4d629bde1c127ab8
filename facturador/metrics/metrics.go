// Package metrics contadores Prometheus del pipeline de emisión.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DocumentsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facturador_documents_issued_total",
		Help: "Comprobantes emitidos, por tipo y resultado.",
	}, []string{"doc_type", "outcome"})

	DocumentsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facturador_documents_queued_total",
		Help: "Comprobantes enviados a la cola de contingencia.",
	})

	ContingencyProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facturador_contingency_processed_total",
		Help: "Entradas de contingencia procesadas, por resultado.",
	}, []string{"result"})

	ContingencyPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facturador_contingency_pending",
		Help: "Entradas de contingencia vencidas encontradas en el último drenado.",
	})
)
