package storage

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema DDL mínimo del pipeline. La unicidad de la clave y el contador de
// secuencia viven aquí porque son los únicos guards críticos para la
// corrección entre instancias.
const Schema = `
CREATE TABLE IF NOT EXISTS sequence_counters (
	org_id   TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	value    BIGINT NOT NULL,
	PRIMARY KEY (org_id, doc_type)
);

CREATE TABLE IF NOT EXISTS documents (
	clave         TEXT PRIMARY KEY,
	org_id        TEXT NOT NULL,
	doc_type      TEXT NOT NULL,
	consecutivo   TEXT NOT NULL,
	emisor_tipo   TEXT NOT NULL DEFAULT '',
	emisor_numero TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	signed_xml    BYTEA,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contingency_entries (
	id            BIGSERIAL PRIMARY KEY,
	org_id        TEXT NOT NULL,
	clave         TEXT NOT NULL,
	signed_xml    BYTEA NOT NULL,
	last_error    TEXT NOT NULL DEFAULT '',
	attempts      INT NOT NULL DEFAULT 0,
	next_retry_at TIMESTAMPTZ NOT NULL,
	status        TEXT NOT NULL DEFAULT 'PENDING'
);
CREATE INDEX IF NOT EXISTS contingency_due
	ON contingency_entries (org_id, status, next_retry_at);

CREATE TABLE IF NOT EXISTS organization_credentials (
	org_id           TEXT PRIMARY KEY,
	idp_user         TEXT NOT NULL,
	idp_password_enc BYTEA NOT NULL,
	vault_pin_enc    BYTEA NOT NULL
);
`

// PostgresStore implementación del Store sobre un pool pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect abre el pool y aplica el esquema.
func Connect(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pool config")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping")
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// NextSequence incremento atómico en la base compartida; la serialización
// estricta por (org, tipo) no depende de locks en el proceso.
func (s *PostgresStore) NextSequence(ctx context.Context, orgID, docType string) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sequence_counters (org_id, doc_type, value)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (org_id, doc_type)
		 DO UPDATE SET value = sequence_counters.value + 1
		 RETURNING value`,
		orgID, docType,
	).Scan(&value)
	if err != nil {
		return 0, errors.Wrap(err, "next sequence")
	}
	return value, nil
}

func (s *PostgresStore) SaveDraft(ctx context.Context, rec *DocumentRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (clave, org_id, doc_type, consecutivo, emisor_tipo, emisor_numero, status, message, signed_xml)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.Clave, rec.OrgID, rec.DocType, rec.Consecutivo, rec.EmisorTipo, rec.EmisorNumero,
		rec.Status, rec.Message, rec.SignedXML,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateClave
		}
		return errors.Wrap(err, "save draft")
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, clave, status, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $2, message = $3, updated_at = now() WHERE clave = $1`,
		clave, status, message,
	)
	if err != nil {
		return errors.Wrap(err, "update status")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Document(ctx context.Context, clave string) (*DocumentRecord, error) {
	var rec DocumentRecord
	err := s.pool.QueryRow(ctx,
		`SELECT clave, org_id, doc_type, consecutivo, emisor_tipo, emisor_numero, status, message, signed_xml, created_at, updated_at
		 FROM documents WHERE clave = $1`,
		clave,
	).Scan(&rec.Clave, &rec.OrgID, &rec.DocType, &rec.Consecutivo, &rec.EmisorTipo, &rec.EmisorNumero,
		&rec.Status, &rec.Message, &rec.SignedXML, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "load document")
	}
	return &rec, nil
}

func (s *PostgresStore) AddContingency(ctx context.Context, e *ContingencyEntry) error {
	status := e.Status
	if status == "" {
		status = ContingencyPending
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO contingency_entries (org_id, clave, signed_xml, last_error, attempts, next_retry_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		e.OrgID, e.Clave, e.SignedXML, e.LastError, e.Attempts, e.NextRetryAt, status,
	).Scan(&e.ID)
	if err != nil {
		return errors.Wrap(err, "add contingency")
	}
	return nil
}

func (s *PostgresStore) DueContingencies(ctx context.Context, orgID string, now time.Time, limit int) ([]*ContingencyEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, clave, signed_xml, last_error, attempts, next_retry_at, status
		 FROM contingency_entries
		 WHERE org_id = $1 AND status = $2 AND next_retry_at <= $3
		 ORDER BY id
		 LIMIT $4`,
		orgID, ContingencyPending, now, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "due contingencies")
	}
	defer rows.Close()

	var out []*ContingencyEntry
	for rows.Next() {
		var e ContingencyEntry
		if err := rows.Scan(&e.ID, &e.OrgID, &e.Clave, &e.SignedXML, &e.LastError,
			&e.Attempts, &e.NextRetryAt, &e.Status); err != nil {
			return nil, errors.Wrap(err, "scan contingency")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateContingency(ctx context.Context, e *ContingencyEntry) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contingency_entries
		 SET last_error = $2, attempts = $3, next_retry_at = $4, status = $5
		 WHERE id = $1`,
		e.ID, e.LastError, e.Attempts, e.NextRetryAt, e.Status,
	)
	if err != nil {
		return errors.Wrap(err, "update contingency")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PendingOrgs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT org_id FROM contingency_entries WHERE status = $1`,
		ContingencyPending,
	)
	if err != nil {
		return nil, errors.Wrap(err, "pending orgs")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, errors.Wrap(err, "scan org")
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Credentials(ctx context.Context, orgID string) (*CredentialsRow, error) {
	var row CredentialsRow
	err := s.pool.QueryRow(ctx,
		`SELECT org_id, idp_user, idp_password_enc, vault_pin_enc
		 FROM organization_credentials WHERE org_id = $1`,
		orgID,
	).Scan(&row.OrgID, &row.IDPUser, &row.IDPPasswordEnc, &row.VaultPINEnc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "load credentials")
	}
	return &row, nil
}
