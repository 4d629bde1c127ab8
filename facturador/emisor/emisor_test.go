package emisor

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"

	"github.com/facturacr/go-facturador/facturador/api"
	"github.com/facturacr/go-facturador/facturador/contingencia"
	"github.com/facturacr/go-facturador/facturador/model"
	"github.com/facturacr/go-facturador/facturador/storage"
	"github.com/facturacr/go-facturador/facturador/xades"
)

type stubTransmitter struct {
	mu   sync.Mutex
	err  error
	sent []api.Reception
}

func (s *stubTransmitter) Send(_ context.Context, _ string, r api.Reception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, r)
	return nil
}

type stubNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *stubNotifier) DocumentStatusChanged(_ context.Context, clv, status string, _ time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, clv+":"+status)
}

type denyAll struct{ err error }

func (d denyAll) Check(context.Context, string, model.DocumentType) error { return d.err }

func testModel(recipient string) *model.DocumentModel {
	return &model.DocumentModel{
		Emisor: model.Party{
			TipoIdentificacion:   "02",
			NumeroIdentificacion: "3101123456",
			Nombre:               "Comercial La Montaña S.A.",
		},
		Receptor: &model.Party{
			TipoIdentificacion:   "01",
			NumeroIdentificacion: recipient,
			Nombre:               "Ana Rodríguez",
		},
		Lineas: []model.Linea{{
			Cantidad:       decimal.NewFromInt(1),
			UnidadMedida:   "Sp",
			Detalle:        "Servicio profesional",
			PrecioUnitario: decimal.NewFromFloat(2260),
			MontoTotal:     decimal.NewFromFloat(2260),
			TotalLinea:     decimal.NewFromFloat(2260),
		}},
		Resumen: model.Resumen{
			Moneda:           "CRC",
			TotalVenta:       decimal.NewFromFloat(2260),
			TotalVentaNeta:   decimal.NewFromFloat(2260),
			TotalComprobante: decimal.NewFromFloat(2260),
		},
	}
}

func testRequest(recipient string) IssueRequest {
	return IssueRequest{
		OrgID:    "org-1",
		DocType:  model.FacturaElectronica,
		Model:    testModel(recipient),
		Branch:   1,
		Terminal: 1,
	}
}

func testPipeline(tx Transmitter) (*Emisor, *storage.MemoryStore, *stubNotifier) {
	store := storage.NewMemoryStore()
	notifier := &stubNotifier{}
	em := New(store, tx, contingencia.NewQueue(store), AllowAll{}, notifier, WithoutSigning())
	return em, store, notifier
}

func TestIssue_Success(t *testing.T) {

	tx := &stubTransmitter{}
	em, store, notifier := testPipeline(tx)

	state, err := em.Issue(context.Background(), testRequest("109870654"))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeSuccess, state.Status)
	assert.Len(t, state.Clave, 50)
	assert.Equal(t, "506", state.Clave[:3])
	assert.Equal(t, "00100001010000000001", state.Consecutivo)
	assert.NotEmpty(t, state.SignedXML)

	rec, err := store.Document(context.Background(), state.Clave)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnviado, rec.Status)
	assert.Equal(t, "3101123456", rec.EmisorNumero)

	require.Len(t, tx.sent, 1)
	assert.Equal(t, state.Clave, tx.sent[0].Clave)
	require.NotNil(t, tx.sent[0].Receptor)
	assert.Equal(t, "109870654", tx.sent[0].Receptor.Numero)

	assert.Equal(t, []string{state.Clave + ":" + model.StatusEnviado}, notifier.events)
}

func TestIssue_ValidationFailsBeforeSideEffects(t *testing.T) {

	tx := &stubTransmitter{}
	em, store, _ := testPipeline(tx)
	ctx := context.Background()

	req := testRequest("109870654")
	req.Model.Resumen.TotalComprobante = decimal.Zero

	_, err := em.Issue(ctx, req)
	require.Error(t, err)

	// sin registro, sin transmisión y sin secuencia consumida
	assert.Empty(t, tx.sent)
	seq, err := store.NextSequence(ctx, "org-1", "01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestIssue_Validation(t *testing.T) {

	em, _, _ := testPipeline(&stubTransmitter{})
	ctx := context.Background()

	req := testRequest("109870654")
	req.Model = nil
	_, err := em.Issue(ctx, req)
	assert.Error(t, err)

	req = testRequest("109870654")
	req.Model.Emisor.NumeroIdentificacion = ""
	_, err = em.Issue(ctx, req)
	assert.Error(t, err)

	req = testRequest("109870654")
	req.Model.Lineas = nil
	_, err = em.Issue(ctx, req)
	assert.Error(t, err)

	req = testRequest("109870654")
	req.Model.Receptor = nil
	_, err = em.Issue(ctx, req)
	assert.Error(t, err)
}

func TestIssue_ReciboSinLineas(t *testing.T) {

	tx := &stubTransmitter{}
	em, _, _ := testPipeline(tx)

	req := testRequest("109870654")
	req.DocType = model.ReciboPago
	req.Model.Lineas = nil

	state, err := em.Issue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, state.Status)
	assert.Equal(t, "09", state.Clave[29:31])
}

func TestIssue_TransientQueuesForRetry(t *testing.T) {

	tx := &stubTransmitter{err: &api.TransientError{Err: errors.New("reception down")}}
	em, store, notifier := testPipeline(tx)
	ctx := context.Background()

	state, err := em.Issue(ctx, testRequest("109870654"))

	// transitorio no es error del llamador: el documento quedó firmado y
	// encolado
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWarning, state.Status)
	assert.NotEmpty(t, state.Message)

	rec, err := store.Document(ctx, state.Clave)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnCola, rec.Status)

	due, err := store.DueContingencies(ctx, "org-1", time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, state.Clave, due[0].Clave)
	assert.Equal(t, state.SignedXML, due[0].SignedXML)

	// el encolado también se publica como cambio de estado
	assert.Equal(t, []string{state.Clave + ":" + model.StatusEnCola}, notifier.events)
}

func TestIssue_RejectIsTerminal(t *testing.T) {

	tx := &stubTransmitter{err: &api.RejectError{Status: 400, Body: "clave ya recibida"}}
	em, store, notifier := testPipeline(tx)
	ctx := context.Background()

	state, err := em.Issue(ctx, testRequest("109870654"))
	require.Error(t, err)
	require.NotNil(t, state)
	assert.Equal(t, model.OutcomeError, state.Status)

	rec, err := store.Document(ctx, state.Clave)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, rec.Status)

	// los rechazos no van a contingencia
	due, err := store.DueContingencies(ctx, "org-1", time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	assert.Equal(t, []string{state.Clave + ":" + model.StatusError}, notifier.events)
}

func TestIssue_DuplicateGuard(t *testing.T) {

	em, _, _ := testPipeline(&stubTransmitter{})
	ctx := context.Background()

	_, err := em.Issue(ctx, testRequest("109870654"))
	require.NoError(t, err)

	// misma organización, monto y receptor dentro de la ventana
	_, err = em.Issue(ctx, testRequest("109870654"))
	assert.ErrorIs(t, err, ErrDuplicateSubmission)

	// otro receptor pasa
	_, err = em.Issue(ctx, testRequest("200000111"))
	assert.NoError(t, err)
}

func TestIssue_DuplicateGuardConcurrent(t *testing.T) {

	em, _, _ := testPipeline(&stubTransmitter{})

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = em.Issue(context.Background(), testRequest("109870654"))
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateSubmission):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, dup)
}

func TestIssue_Entitlements(t *testing.T) {

	store := storage.NewMemoryStore()
	em := New(store, &stubTransmitter{}, contingencia.NewQueue(store), denyAll{err: ErrQuotaExceeded}, nil, WithoutSigning())

	_, err := em.Issue(context.Background(), testRequest("109870654"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestIssue_SequenceAdvances(t *testing.T) {

	em, _, _ := testPipeline(&stubTransmitter{})
	ctx := context.Background()

	s1, err := em.Issue(ctx, testRequest("109870654"))
	require.NoError(t, err)
	s2, err := em.Issue(ctx, testRequest("200000111"))
	require.NoError(t, err)

	assert.NotEqual(t, s1.Clave, s2.Clave)
	assert.Equal(t, "00100001010000000001", s1.Consecutivo)
	assert.Equal(t, "00100001010000000002", s2.Consecutivo)
}

func TestRetrySend(t *testing.T) {

	tx := &stubTransmitter{err: &api.TransientError{Err: errors.New("reception down")}}
	em, store, notifier := testPipeline(tx)
	ctx := context.Background()

	state, err := em.Issue(ctx, testRequest("109870654"))
	require.NoError(t, err)
	require.Equal(t, model.OutcomeWarning, state.Status)

	// la recepción se recupera y el drenado entrega la entrada
	tx.mu.Lock()
	tx.err = nil
	tx.mu.Unlock()

	processed, failed, err := contingencia.NewQueue(store).Drain(ctx, "org-1", em.RetrySend)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Zero(t, failed)

	rec, err := store.Document(ctx, state.Clave)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnviado, rec.Status)

	require.Len(t, tx.sent, 1)
	assert.Equal(t, state.Clave, tx.sent[0].Clave)
	assert.Equal(t, "3101123456", tx.sent[0].Emisor.Numero)
	assert.Equal(t, []string{
		state.Clave + ":" + model.StatusEnCola,
		state.Clave + ":" + model.StatusEnviado,
	}, notifier.events)
}

// testContainer bundle PEM con la llave cifrada y un certificado
// autofirmado vigente.
func testContainer(t *testing.T, secret []byte) []byte {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyDER, err := pkcs8.MarshalPrivateKey(key, secret, nil)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(4411),
		Subject:      pkix.Name{CommonName: "COMERCIAL LA MONTANA SA"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	out := pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: keyDER})
	return append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})...)
}

func TestIssue_SignedEndToEnd(t *testing.T) {

	tx := &stubTransmitter{}
	store := storage.NewMemoryStore()
	em := New(store, tx, contingencia.NewQueue(store), AllowAll{}, nil)

	secret := []byte("1234")
	req := testRequest("109870654")
	req.Container = testContainer(t, secret)
	req.Secret = secret

	state, err := em.Issue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, state.Status)

	// el XML transmitido lleva la firma embebida y verifica
	require.NoError(t, xades.Verify(state.SignedXML))
	assert.Contains(t, string(state.SignedXML), "<Clave>"+state.Clave+"</Clave>")

	rec, err := store.Document(context.Background(), state.Clave)
	require.NoError(t, err)
	assert.Equal(t, state.SignedXML, rec.SignedXML)
}

func TestIssue_WrongVaultSecret(t *testing.T) {

	store := storage.NewMemoryStore()
	em := New(store, &stubTransmitter{}, contingencia.NewQueue(store), AllowAll{}, nil)

	req := testRequest("109870654")
	req.Container = testContainer(t, []byte("1234"))
	req.Secret = []byte("0000")

	_, err := em.Issue(context.Background(), req)
	require.Error(t, err)

	// falló antes de consumir secuencia
	seq, err := store.NextSequence(context.Background(), "org-1", "01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}
