// Package clave construye la clave numérica de 50 dígitos y el número
// consecutivo de 20 dígitos exigidos por Hacienda. El formato es consumido
// externamente byte a byte; cualquier cambio de ancho rompe compatibilidad.
package clave

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/facturacr/go-facturador/facturador/model"
)

const (
	countryCode = "506"

	issuerWidth   = 12
	branchWidth   = 3
	terminalWidth = 5
	sequenceWidth = 10
	securityWidth = 8

	maxSequence = 9999999999
)

// ErrInvalidSequenceWidth la secuencia no cabe en el campo de 10 dígitos.
// El desbordamiento se reporta, nunca se trunca.
var ErrInvalidSequenceWidth = errors.New("sequence exceeds field width")

// Situacion código de situación del comprobante (posición 42 de la clave).
type Situacion string

const (
	SituacionNormal       Situacion = "1"
	SituacionContingencia Situacion = "2"
	SituacionSinInternet  Situacion = "3"
)

// Parts insumos de la clave; SecurityCode vacío genera uno aleatorio.
type Parts struct {
	Emisor       string
	Branch       int
	Terminal     int
	DocType      model.DocumentType
	Sequence     int64
	Situacion    Situacion
	SecurityCode string
}

// New construye la clave de 50 dígitos:
// 506 + emisor(12) + fecha AAMMDD(6) + sucursal(3) + terminal(5) +
// tipo(2) + secuencia(10) + situación(1) + código seguridad(8).
func New(p Parts, ts time.Time) (string, error) {
	seq, err := FormatSequence(p.Sequence)
	if err != nil {
		return "", err
	}

	emisor, err := padDigits(p.Emisor, issuerWidth)
	if err != nil {
		return "", errors.Wrap(err, "emisor")
	}

	security := p.SecurityCode
	if security == "" {
		security, err = RandomSecurityCode()
		if err != nil {
			return "", err
		}
	}
	if len(security) != securityWidth {
		return "", errors.Errorf("security code must have %d digits, got %d", securityWidth, len(security))
	}

	situacion := p.Situacion
	if situacion == "" {
		situacion = SituacionNormal
	}

	var b strings.Builder
	b.WriteString(countryCode)
	b.WriteString(emisor)
	b.WriteString(ts.Format("060102"))
	b.WriteString(fmt.Sprintf("%0*d", branchWidth, p.Branch))
	b.WriteString(fmt.Sprintf("%0*d", terminalWidth, p.Terminal))
	b.WriteString(p.DocType.Code())
	b.WriteString(seq)
	b.WriteString(string(situacion))
	b.WriteString(security)

	return b.String(), nil
}

// Consecutivo número consecutivo legible: sucursal(3) + terminal(5) +
// tipo(2) + secuencia(10). Sin fecha ni código de seguridad.
func Consecutivo(branch, terminal int, docType model.DocumentType, sequence int64) (string, error) {
	seq, err := FormatSequence(sequence)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d%0*d%s%s", branchWidth, branch, terminalWidth, terminal, docType.Code(), seq), nil
}

// FormatSequence formatea la secuencia a ancho fijo de 10 dígitos.
func FormatSequence(n int64) (string, error) {
	if n < 1 || n > maxSequence {
		return "", errors.Wrapf(ErrInvalidSequenceWidth, "sequence %d", n)
	}
	return fmt.Sprintf("%0*d", sequenceWidth, n), nil
}

// ParseSequence operación inversa de FormatSequence.
func ParseSequence(s string) (int64, error) {
	if len(s) != sequenceWidth {
		return 0, errors.Wrapf(ErrInvalidSequenceWidth, "sequence %q", s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse sequence")
	}
	return n, nil
}

// RandomSecurityCode 8 dígitos aleatorios, sin significado semántico.
func RandomSecurityCode() (string, error) {
	max := big.NewInt(100000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", errors.Wrap(err, "random security code")
	}
	return fmt.Sprintf("%0*d", securityWidth, n), nil
}

func padDigits(s string, width int) (string, error) {
	if s == "" {
		return "", errors.New("empty identifier")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", errors.Errorf("identifier %q is not numeric", s)
		}
	}
	if len(s) > width {
		return "", errors.Errorf("identifier %q exceeds %d digits", s, width)
	}
	return strings.Repeat("0", width-len(s)) + s, nil
}
