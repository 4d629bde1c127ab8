// Package contingencia cola durable de reintentos para comprobantes cuya
// transmisión falló por condiciones transitorias. El backoff es estado
// persistido (nextRetryAt + attempts), no un timer en memoria: los
// reintentos pendientes sobreviven reinicios del proceso.
package contingencia

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	log "github.com/sirupsen/logrus"

	"github.com/facturacr/go-facturador/facturador/metrics"
	"github.com/facturacr/go-facturador/facturador/storage"
)

var logger = log.WithField("component", "contingencia")

// ErrMaxRetriesExceeded la entrada agotó sus reintentos y quedó FAILED;
// requiere intervención manual, nunca se descarta en silencio.
var ErrMaxRetriesExceeded = errors.New("contingency entry exceeded max retries")

const (
	maxAttempts = 5
	batchSize   = 50
)

// SendFunc reintenta la transmisión de una entrada.
type SendFunc func(ctx context.Context, e *storage.ContingencyEntry) error

// Queue opera sobre las entradas persistidas en el Store.
type Queue struct {
	store storage.Store
}

func NewQueue(store storage.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue persiste una entrada PENDING elegible de inmediato. Mejor
// esfuerzo: si la persistencia falla solo se registra, porque el documento
// firmado ya quedó durable en su registro.
func (q *Queue) Enqueue(ctx context.Context, orgID, clave string, signedXML []byte, cause error) {
	entry := &storage.ContingencyEntry{
		OrgID:       orgID,
		Clave:       clave,
		SignedXML:   signedXML,
		LastError:   cause.Error(),
		NextRetryAt: time.Now(),
		Status:      storage.ContingencyPending,
	}
	if err := q.store.AddContingency(ctx, entry); err != nil {
		logger.WithField("clave", clave).Errorf("could not persist contingency entry: %v", err)
		return
	}
	metrics.DocumentsQueued.Inc()
	logger.WithField("clave", clave).Warn("document queued for contingency retry")
}

// Drain procesa las entradas PENDING vencidas de la organización, las más
// antiguas primero. Éxito marca PROCESSED; fallo incrementa attempts y
// reprograma con backoff exponencial: now + 2^(attempts+1) minutos. Tras
// agotar los intentos la entrada queda FAILED permanentemente.
func (q *Queue) Drain(ctx context.Context, orgID string, send SendFunc) (processed, failed int, err error) {
	now := time.Now()
	entries, err := q.store.DueContingencies(ctx, orgID, now, batchSize)
	if err != nil {
		return 0, 0, errors.Wrap(err, "load due contingencies")
	}
	metrics.ContingencyPending.Set(float64(len(entries)))

	for _, e := range entries {
		if err := send(ctx, e); err != nil {
			e.Attempts++
			e.LastError = err.Error()
			if e.Attempts >= maxAttempts {
				e.Status = storage.ContingencyFailed
				failed++
				metrics.ContingencyProcessed.WithLabelValues("failed").Inc()
				logger.WithField("clave", e.Clave).
					Errorf("contingency entry failed permanently after %d attempts: %v", e.Attempts, err)
			} else {
				e.NextRetryAt = now.Add(backoff(e.Attempts))
				logger.WithField("clave", e.Clave).
					Warnf("retry %d failed, next attempt at %s", e.Attempts, e.NextRetryAt.Format(time.RFC3339))
			}
		} else {
			e.Status = storage.ContingencyProcessed
			processed++
			metrics.ContingencyProcessed.WithLabelValues("processed").Inc()
			logger.WithField("clave", e.Clave).Info("contingency entry delivered")
		}

		if uerr := q.store.UpdateContingency(ctx, e); uerr != nil {
			logger.WithField("clave", e.Clave).Errorf("could not update contingency entry: %v", uerr)
		}
	}
	return processed, failed, nil
}

func backoff(attempts int) time.Duration {
	return time.Duration(1<<uint(attempts+1)) * time.Minute
}
