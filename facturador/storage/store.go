// Package storage persiste los registros de comprobantes, los contadores de
// secuencia por (organización, tipo) y la cola de contingencia.
package storage

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	ErrNotFound       = errors.New("storage: not found")
	ErrDuplicateClave = errors.New("storage: duplicate clave")
)

// Estados de una entrada de contingencia.
const (
	ContingencyPending   = "PENDING"
	ContingencyProcessed = "PROCESSED"
	ContingencyFailed    = "FAILED"
)

// DocumentRecord registro durable de un comprobante, llave única por clave.
type DocumentRecord struct {
	Clave        string
	OrgID        string
	DocType      string
	Consecutivo  string
	EmisorTipo   string
	EmisorNumero string
	Status       string
	Message      string
	SignedXML    []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ContingencyEntry comprobante firmado pendiente de reintento.
type ContingencyEntry struct {
	ID          int64
	OrgID       string
	Clave       string
	SignedXML   []byte
	LastError   string
	Attempts    int
	NextRetryAt time.Time
	Status      string
}

// CredentialsRow credenciales de la organización; los secretos se guardan
// cifrados con la llave maestra.
type CredentialsRow struct {
	OrgID          string
	IDPUser        string
	IDPPasswordEnc []byte
	VaultPINEnc    []byte
}

// Store operaciones de persistencia del pipeline. NextSequence debe ser un
// incremento atómico en la capa compartida: varias instancias del proceso
// pueden correr a la vez y un número consumido jamás se reutiliza.
type Store interface {
	NextSequence(ctx context.Context, orgID, docType string) (int64, error)

	SaveDraft(ctx context.Context, rec *DocumentRecord) error
	UpdateStatus(ctx context.Context, clave, status, message string) error
	Document(ctx context.Context, clave string) (*DocumentRecord, error)

	AddContingency(ctx context.Context, e *ContingencyEntry) error
	DueContingencies(ctx context.Context, orgID string, now time.Time, limit int) ([]*ContingencyEntry, error)
	UpdateContingency(ctx context.Context, e *ContingencyEntry) error
	PendingOrgs(ctx context.Context) ([]string, error)

	Credentials(ctx context.Context, orgID string) (*CredentialsRow, error)
}
