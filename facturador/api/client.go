// Package api cliente REST de la recepción de comprobantes de Hacienda.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	log "github.com/sirupsen/logrus"

	"github.com/facturacr/go-facturador/facturador/auth"
)

var logger = log.WithField("component", "api")

// CredentialsResolver entrega las credenciales del IDP para una
// organización, descifrando los secretos en reposo.
type CredentialsResolver interface {
	Resolve(ctx context.Context, orgID string) (auth.Credentials, error)
}

// Identification identificación tributaria de emisor o receptor.
type Identification struct {
	Tipo   string `json:"tipoIdentificacion"`
	Numero string `json:"numeroIdentificacion"`
}

// Reception payload de POST /recepcion. Receptor es opcional.
type Reception struct {
	Clave     string
	Fecha     time.Time
	Emisor    Identification
	Receptor  *Identification
	SignedXML []byte
}

type receptionBody struct {
	Clave          string          `json:"clave"`
	Fecha          string          `json:"fecha"`
	Emisor         Identification  `json:"emisor"`
	Receptor       *Identification `json:"receptor,omitempty"`
	ComprobanteXML string          `json:"comprobanteXml"`
}

// StatusResponse veredicto de procesamiento de la autoridad.
type StatusResponse struct {
	Clave        string `json:"clave"`
	Estado       string `json:"ind-estado"`
	RespuestaXML []byte `json:"respuesta-xml,omitempty"`
}

// Client cliente de transmisión. Resuelve credenciales por organización,
// obtiene el bearer del TokenProvider y clasifica los resultados.
type Client struct {
	base       string
	httpClient *http.Client
	tokens     *auth.TokenProvider
	creds      CredentialsResolver
}

func NewClient(baseURL string, httpClient *http.Client, tokens *auth.TokenProvider, creds CredentialsResolver) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: baseURL, httpClient: httpClient, tokens: tokens, creds: creds}
}

// Send envía el comprobante firmado. Un 401 refresca el token y reintenta
// una única vez; el segundo 401 se propaga como ErrTokenExpired.
func (c *Client) Send(ctx context.Context, orgID string, r Reception) error {
	credentials, err := c.creds.Resolve(ctx, orgID)
	if err != nil {
		return errors.Wrap(err, "resolve credentials")
	}

	err = c.send(ctx, credentials, r)
	if errors.Is(err, ErrTokenExpired) {
		logger.WithField("clave", r.Clave).Debug("token expired, re-authenticating and retrying once")
		c.tokens.Invalidate(credentials)
		err = c.send(ctx, credentials, r)
	}
	return err
}

func (c *Client) send(ctx context.Context, credentials auth.Credentials, r Reception) error {
	token, err := c.tokens.Token(ctx, credentials)
	if err != nil {
		return err
	}

	body := receptionBody{
		Clave:          r.Clave,
		Fecha:          r.Fecha.Format(time.RFC3339),
		Emisor:         r.Emisor,
		Receptor:       r.Receptor,
		ComprobanteXML: base64.StdEncoding.EncodeToString(r.SignedXML),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal reception")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/recepcion", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	return classify(resp)
}

// GetStatus consulta GET /recepcion/{clave}.
func (c *Client) GetStatus(ctx context.Context, orgID, clave string) (*StatusResponse, error) {
	credentials, err := c.creds.Resolve(ctx, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve credentials")
	}
	token, err := c.tokens.Token(ctx, credentials)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/recepcion/"+clave, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classify(resp); err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, errors.Wrap(err, "decode status")
	}
	return &status, nil
}

// classify mapea la respuesta: 2xx aceptado (202 = encolado asíncrono),
// 401 token vencido, otros 4xx rechazo, 5xx transitorio.
func classify(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrTokenExpired
	case resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("reception returned http status %d", resp.StatusCode)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RejectError{Status: resp.StatusCode, Body: string(body)}
	}
}
