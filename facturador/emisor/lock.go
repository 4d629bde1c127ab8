package emisor

import (
	"fmt"
	"sync"
	"time"
)

// SubmissionLocks guard efímero y local al proceso contra dobles envíos
// casi simultáneos (doble clic). No garantiza unicidad de identificadores;
// eso lo hace el contador de secuencia en persistencia. Las marcas expiran
// solas tras la ventana fija, pase lo que pase con la solicitud.
type SubmissionLocks struct {
	mu   sync.Mutex
	held map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewSubmissionLocks(ttl time.Duration) *SubmissionLocks {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &SubmissionLocks{
		held: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func submissionKey(orgID, amount, recipientID string) string {
	return fmt.Sprintf("%s|%s|%s", orgID, amount, recipientID)
}

// Acquire devuelve false si la llave sigue retenida dentro de la ventana.
func (l *SubmissionLocks) Acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	// purga de marcas vencidas
	for k, exp := range l.held {
		if now.After(exp) {
			delete(l.held, k)
		}
	}

	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return false
	}
	l.held[key] = now.Add(l.ttl)
	return true
}
