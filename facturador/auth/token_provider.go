// Package auth autentica contra el IDP de Hacienda (OAuth2 password grant)
// con caché de tokens por identidad de credencial y colapso de
// autenticaciones concurrentes en un solo vuelo.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ErrAuthFailed el IDP rechazó las credenciales. Los fallos nunca se
// cachean.
var ErrAuthFailed = errors.New("authentication failed")

// AuthError detalle del fallo con el estado upstream embebido.
type AuthError struct {
	Status int
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("IDP returned status %d: %s", e.Status, e.Detail)
}

func (e *AuthError) Unwrap() error { return ErrAuthFailed }

// Credentials credenciales del password grant. Username identifica la
// entrada en caché.
type Credentials struct {
	Username string
	Password string
	ClientID string
	TokenURL string
}

func (c Credentials) cacheKey() string {
	return c.Username + "|" + c.TokenURL
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// TokenProvider cachea bearer tokens por identidad con margen de expiración.
// Un singleflight.Group garantiza a lo sumo una autenticación en vuelo por
// identidad dentro del proceso.
type TokenProvider struct {
	mu    sync.Mutex
	cache map[string]cachedToken

	flight     singleflight.Group
	httpClient *http.Client

	// margen antes de la expiración para descartar el token
	refreshSkew time.Duration
}

func NewTokenProvider(httpClient *http.Client) *TokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TokenProvider{
		cache:       make(map[string]cachedToken),
		httpClient:  httpClient,
		refreshSkew: 30 * time.Second, // margen de seguridad
	}
}

// Token devuelve un bearer vigente para la credencial; autentica solo si no
// hay token en caché. Llamadas concurrentes con la misma identidad comparten
// una única petición al IDP.
func (p *TokenProvider) Token(ctx context.Context, creds Credentials) (string, error) {
	key := creds.cacheKey()

	if token, ok := p.currentIfValid(key); ok {
		return token, nil
	}

	v, err, shared := p.flight.Do(key, func() (interface{}, error) {
		// doble chequeo: otro llamador pudo poblar la caché mientras
		// esperábamos el vuelo
		if token, ok := p.currentIfValid(key); ok {
			return token, nil
		}
		return p.authenticate(ctx, creds)
	})
	if err != nil {
		return "", err
	}
	if shared {
		log.WithField("component", "auth").Debug("token request coalesced with in-flight authentication")
	}
	return v.(string), nil
}

// Invalidate descarta el token en caché de la credencial; el siguiente
// Token vuelve a autenticar.
func (p *TokenProvider) Invalidate(creds Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, creds.cacheKey())
}

func (p *TokenProvider) currentIfValid(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.cache[key]
	if !ok || entry.token == "" {
		return "", false
	}
	// sin fecha de expiración -> forzar reautenticación
	if entry.expiresAt.IsZero() {
		return "", false
	}
	now := time.Now().UTC()
	if entry.expiresAt.Sub(now) <= p.refreshSkew {
		return "", false
	}
	return entry.token, true
}

func (p *TokenProvider) authenticate(ctx context.Context, creds Credentials) (string, error) {
	cfg := oauth2.Config{
		ClientID: creds.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL: creds.TokenURL,
			// estilo fijo: el autodetect de oauth2 reintenta con el
			// estilo alterno y duplicaría las credenciales hacia el IDP
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := cfg.PasswordCredentialsToken(ctx, creds.Username, creds.Password)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) {
			status := 0
			if rErr.Response != nil {
				status = rErr.Response.StatusCode
			}
			return "", &AuthError{Status: status, Detail: rErr.ErrorCode}
		}
		return "", errors.Wrap(err, "token endpoint")
	}

	p.mu.Lock()
	p.cache[creds.cacheKey()] = cachedToken{
		token:     tok.AccessToken,
		expiresAt: tok.Expiry.UTC(),
	}
	p.mu.Unlock()

	return tok.AccessToken, nil
}
