package facturador

import (
	"fmt"
	"strings"
)

// Environment selecciona los endpoints de Hacienda (recepción e IDP).
type Environment int

const (
	Sandbox Environment = iota
	Prod
)

func (e *Environment) BaseURL() string {
	switch *e {
	case Prod:
		return "https://api.comprobanteselectronicos.go.cr/recepcion/v1"
	case Sandbox:
		return "https://api-sandbox.comprobanteselectronicos.go.cr/recepcion/v1"
	}
	panic("Invalid environment")
}

// TokenURL endpoint OAuth2 (password grant) del IDP.
func (e *Environment) TokenURL() string {
	switch *e {
	case Prod:
		return "https://idp.comprobanteselectronicos.go.cr/auth/realms/rut/protocol/openid-connect/token"
	case Sandbox:
		return "https://idp.comprobanteselectronicos.go.cr/auth/realms/rut-stag/protocol/openid-connect/token"
	}
	panic("Invalid environment")
}

// ClientID el client id del IDP varía por ambiente.
func (e *Environment) ClientID() string {
	switch *e {
	case Prod:
		return "api-prod"
	case Sandbox:
		return "api-stag"
	}
	panic("Invalid environment")
}

func (e *Environment) Name() string {
	switch *e {
	case Prod:
		return "prod"
	case Sandbox:
		return "sandbox"
	}
	panic("Invalid environment")
}

func (e *Environment) UnmarshalText(text []byte) error {
	val := strings.ToLower(strings.TrimSpace(string(text)))

	switch val {
	case "prod":
		*e = Prod
	case "sandbox":
		*e = Sandbox
	default:
		return fmt.Errorf("invalid environment: %q (allowed: prod, sandbox)", val)
	}
	return nil
}
