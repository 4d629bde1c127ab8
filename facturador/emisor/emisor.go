// Package emisor orquesta la emisión completa de un comprobante: validación,
// guard de duplicados, derechos del plan, vault, clave, XML canónico, firma,
// persistencia del borrador, transmisión y contingencia.
package emisor

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	log "github.com/sirupsen/logrus"

	"github.com/facturacr/go-facturador/facturador/api"
	"github.com/facturacr/go-facturador/facturador/clave"
	"github.com/facturacr/go-facturador/facturador/contingencia"
	"github.com/facturacr/go-facturador/facturador/document"
	"github.com/facturacr/go-facturador/facturador/metrics"
	"github.com/facturacr/go-facturador/facturador/model"
	"github.com/facturacr/go-facturador/facturador/storage"
	"github.com/facturacr/go-facturador/facturador/vault"
	"github.com/facturacr/go-facturador/facturador/xades"
)

var logger = log.WithField("component", "emisor")

var (
	// ErrDuplicateSubmission otra solicitud idéntica sigue dentro de la
	// ventana del guard.
	ErrDuplicateSubmission = errors.New("duplicate submission in progress")
	// ErrQuotaExceeded la organización agotó la cuota de su plan.
	ErrQuotaExceeded = errors.New("document quota exceeded")
	// ErrFeatureRestricted el plan no habilita este tipo de comprobante.
	ErrFeatureRestricted = errors.New("document type not enabled for plan")
)

// Entitlements verifica cuota y funcionalidades del plan de la
// organización. Devuelve ErrQuotaExceeded o ErrFeatureRestricted.
type Entitlements interface {
	Check(ctx context.Context, orgID string, docType model.DocumentType) error
}

// AllowAll entitlements permisivos, para planes sin restricciones y para
// el worker de contingencia (que no vuelve a pasar por el chequeo de plan).
type AllowAll struct{}

func (AllowAll) Check(context.Context, string, model.DocumentType) error { return nil }

// Notifier colaborador externo notificado en cada cambio de estado.
type Notifier interface {
	DocumentStatusChanged(ctx context.Context, clv, status string, ts time.Time)
}

// Transmitter envía el comprobante firmado a la recepción.
type Transmitter interface {
	Send(ctx context.Context, orgID string, r api.Reception) error
}

// IssueRequest una solicitud de emisión de la capa de orquestación externa.
type IssueRequest struct {
	OrgID     string
	DocType   model.DocumentType
	Model     *model.DocumentModel
	Branch    int
	Terminal  int
	Situacion clave.Situacion

	// material de seguridad: contenedor de llaves + PIN
	Container []byte
	Secret    []byte
}

// Emisor secuencia los pasos del pipeline. Todas las dependencias llegan
// por interfaz para que la capa externa decida el cableado.
type Emisor struct {
	store  storage.Store
	tx     Transmitter
	queue  *contingencia.Queue
	locks  *SubmissionLocks
	ent    Entitlements
	notify Notifier

	// modo de prueba sin criptografía: no abre el vault ni firma
	skipSigning bool
}

type Option func(*Emisor)

// WithoutSigning modo de prueba no criptográfico.
func WithoutSigning() Option {
	return func(e *Emisor) { e.skipSigning = true }
}

func New(store storage.Store, tx Transmitter, queue *contingencia.Queue, ent Entitlements, notify Notifier, opts ...Option) *Emisor {
	e := &Emisor{
		store:  store,
		tx:     tx,
		queue:  queue,
		locks:  NewSubmissionLocks(10 * time.Second),
		ent:    ent,
		notify: notify,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Issue emite un comprobante de punta a punta. Los errores previos a la
// firma se devuelven sin crear registro; a partir del borrador persistido
// el registro siempre refleja el desenlace.
func (e *Emisor) Issue(ctx context.Context, req IssueRequest) (*model.DocumentState, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	recipient := ""
	if req.Model.Receptor != nil {
		recipient = req.Model.Receptor.NumeroIdentificacion
	}
	lockKey := submissionKey(req.OrgID, req.Model.Resumen.TotalComprobante.String(), recipient)
	if !e.locks.Acquire(lockKey) {
		return nil, ErrDuplicateSubmission
	}

	if err := e.ent.Check(ctx, req.OrgID, req.DocType); err != nil {
		return nil, err
	}

	if e.skipSigning {
		return e.issueSigned(ctx, req, nil)
	}

	var state *model.DocumentState
	err := vault.WithIdentity(req.Container, req.Secret, func(id *vault.SigningIdentity) error {
		var ferr error
		state, ferr = e.issueSigned(ctx, req, id)
		return ferr
	})
	return state, err
}

// issueSigned corre desde la generación de la clave en adelante; la
// identidad ya está abierta (o ausente en modo de prueba) y el vault
// garantiza su Scrub al salir.
func (e *Emisor) issueSigned(ctx context.Context, req IssueRequest, id *vault.SigningIdentity) (*model.DocumentState, error) {
	// la marca de emisión queda congelada aquí y se reutiliza en la
	// clave, el XML y la hora de firma
	ts := time.Now()

	seq, err := e.store.NextSequence(ctx, req.OrgID, req.DocType.Code())
	if err != nil {
		return nil, errors.Wrap(err, "allocate sequence")
	}

	clv, err := clave.New(clave.Parts{
		Emisor:    req.Model.Emisor.NumeroIdentificacion,
		Branch:    req.Branch,
		Terminal:  req.Terminal,
		DocType:   req.DocType,
		Sequence:  seq,
		Situacion: req.Situacion,
	}, ts)
	if err != nil {
		return nil, err
	}

	consecutivo, err := clave.Consecutivo(req.Branch, req.Terminal, req.DocType, seq)
	if err != nil {
		return nil, err
	}

	xml, err := document.Build(req.Model, req.DocType, clv, consecutivo, ts)
	if err != nil {
		return nil, errors.Wrap(err, "build canonical document")
	}

	signed := xml
	if id != nil {
		signed, err = xades.NewSigner(id).Sign(xml, ts)
		if err != nil {
			return nil, errors.Wrap(err, "sign document")
		}
	}

	// el borrador se persiste antes de intentar transmitir: un documento
	// firmado no se pierde aunque la transmisión nunca ocurra
	rec := &storage.DocumentRecord{
		Clave:        clv,
		OrgID:        req.OrgID,
		DocType:      req.DocType.Code(),
		Consecutivo:  consecutivo,
		EmisorTipo:   req.Model.Emisor.TipoIdentificacion,
		EmisorNumero: req.Model.Emisor.NumeroIdentificacion,
		Status:       model.StatusFirmado,
		SignedXML:    signed,
	}
	if err := e.store.SaveDraft(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "persist draft")
	}

	reception := api.Reception{
		Clave:     clv,
		Fecha:     ts,
		Emisor:    api.Identification{Tipo: req.Model.Emisor.TipoIdentificacion, Numero: req.Model.Emisor.NumeroIdentificacion},
		SignedXML: signed,
	}
	if req.Model.Receptor != nil {
		reception.Receptor = &api.Identification{
			Tipo:   req.Model.Receptor.TipoIdentificacion,
			Numero: req.Model.Receptor.NumeroIdentificacion,
		}
	}

	state := &model.DocumentState{Clave: clv, Consecutivo: consecutivo, SignedXML: signed}

	if err := e.tx.Send(ctx, req.OrgID, reception); err != nil {
		if api.IsTransient(err) {
			// el documento ya es durable: se encola y el llamador
			// recibe warning, no error
			e.queue.Enqueue(ctx, req.OrgID, clv, signed, err)
			e.setStatus(ctx, clv, model.StatusEnCola, err.Error())
			metrics.DocumentsIssued.WithLabelValues(req.DocType.Code(), "queued").Inc()

			state.Status = model.OutcomeWarning
			state.Message = "transmission failed, queued for retry"
			return state, nil
		}

		e.setStatus(ctx, clv, model.StatusError, err.Error())
		metrics.DocumentsIssued.WithLabelValues(req.DocType.Code(), "error").Inc()

		state.Status = model.OutcomeError
		state.Message = err.Error()
		return state, err
	}

	e.setStatus(ctx, clv, model.StatusEnviado, "")
	metrics.DocumentsIssued.WithLabelValues(req.DocType.Code(), "sent").Inc()

	state.Status = model.OutcomeSuccess
	state.AuthorityResponse = model.StatusEnviado
	return state, nil
}

// setStatus actualiza el registro y notifica a los colaboradores externos;
// todo cambio de estado se publica, no solo el envío exitoso.
func (e *Emisor) setStatus(ctx context.Context, clv, status, message string) {
	if err := e.store.UpdateStatus(ctx, clv, status, message); err != nil {
		logger.WithField("clave", clv).Errorf("could not update record status to %s: %v", status, err)
	}
	if e.notify != nil {
		e.notify.DocumentStatusChanged(ctx, clv, status, time.Now())
	}
}

// RetrySend adapta el Transmitter como SendFunc de la cola de contingencia
// y actualiza el registro del documento según el desenlace del reintento.
func (e *Emisor) RetrySend(ctx context.Context, entry *storage.ContingencyEntry) error {
	rec, err := e.store.Document(ctx, entry.Clave)
	if err != nil {
		return errors.Wrap(err, "load document record")
	}

	reception := api.Reception{
		Clave:     entry.Clave,
		Fecha:     rec.CreatedAt,
		Emisor:    api.Identification{Tipo: rec.EmisorTipo, Numero: rec.EmisorNumero},
		SignedXML: entry.SignedXML,
	}
	if err := e.tx.Send(ctx, entry.OrgID, reception); err != nil {
		return err
	}

	e.setStatus(ctx, entry.Clave, model.StatusEnviado, "")
	return nil
}

// validate integridad estructural del modelo: emisor, total positivo, al
// menos una línea salvo recibo de pago, y receptor presente.
func validate(req IssueRequest) error {
	if req.Model == nil {
		return errors.New("nil document model")
	}
	if req.Model.Emisor.NumeroIdentificacion == "" {
		return errors.New("issuer identification is required")
	}
	if !req.Model.Resumen.TotalComprobante.IsPositive() {
		return errors.New("document total must be greater than zero")
	}
	if req.DocType != model.ReciboPago && len(req.Model.Lineas) == 0 {
		return errors.New("at least one line item is required")
	}
	if req.Model.Receptor == nil || req.Model.Receptor.NumeroIdentificacion == "" {
		return errors.New("recipient identification is required")
	}
	return nil
}
