package contingencia

import (
	"context"
	"time"

	"github.com/facturacr/go-facturador/facturador/mutex"
)

// OrgLister enumera las organizaciones con entradas pendientes que el
// worker debe drenar.
type OrgLister func(ctx context.Context) ([]string, error)

// Worker drena la cola por organización en un intervalo fijo. Modelo pull:
// nadie empuja trabajo al worker, él consulta las entradas vencidas. Un
// candado por organización evita drenados traslapados.
type Worker struct {
	queue    *Queue
	send     SendFunc
	orgs     OrgLister
	interval time.Duration

	locks mutex.KeyedMutex[string]
}

func NewWorker(queue *Queue, send SendFunc, orgs OrgLister, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{queue: queue, send: send, orgs: orgs, interval: interval}
}

// Run bloquea hasta que el contexto termine.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	orgs, err := w.orgs(ctx)
	if err != nil {
		logger.Errorf("could not list organizations: %v", err)
		return
	}

	for _, org := range orgs {
		// si el drenado anterior de esta organización sigue corriendo,
		// se salta el turno en vez de traslaparlo
		if !w.locks.TryLock(org) {
			logger.WithField("org", org).Debug("previous drain still running, skipping")
			continue
		}
		func() {
			defer w.locks.Unlock(org)
			if _, _, err := w.queue.Drain(ctx, org, w.send); err != nil {
				logger.WithField("org", org).Errorf("drain failed: %v", err)
			}
		}()
	}
}
