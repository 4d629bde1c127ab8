// Package vault abre el contenedor de llaves del firmante (PKCS#12 o un
// bundle PEM con llave cifrada) y entrega una identidad de firma efímera.
package vault

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/go-faster/errors"
	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pkcs12"
)

var (
	// ErrInvalidSecret el PIN no descifra el contenedor. El secreto jamás
	// se incluye en mensajes ni en logs.
	ErrInvalidSecret = errors.New("vault: invalid secret")
	// ErrCorruptContainer el contenedor no trae exactamente una llave
	// privada y un certificado, o no se puede decodificar.
	ErrCorruptContainer = errors.New("vault: corrupt key container")
	// ErrExpiredCertificate el certificado está fuera de su ventana de
	// validez temporal.
	ErrExpiredCertificate = errors.New("vault: certificate outside validity window")
)

// SigningIdentity material de firma derivado del contenedor. Nunca se
// persiste; el dueño debe llamar Scrub al terminar, en todas las salidas.
type SigningIdentity struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
	NotBefore   time.Time
	NotAfter    time.Time
}

// Scrub anula el material sensible. Idempotente.
func (id *SigningIdentity) Scrub() {
	if id == nil {
		return
	}
	if id.PrivateKey != nil {
		id.PrivateKey.D = nil
		id.PrivateKey.Primes = nil
		id.PrivateKey.Precomputed = rsa.PrecomputedValues{}
	}
	id.PrivateKey = nil
	id.Certificate = nil
	id.NotBefore = time.Time{}
	id.NotAfter = time.Time{}
}

// Open decodifica el contenedor con el secreto y valida la vigencia del
// certificado. Acepta PKCS#12 binario o un bundle PEM con bloques
// ENCRYPTED PRIVATE KEY y CERTIFICATE.
func Open(container, secret []byte) (*SigningIdentity, error) {
	return openAt(container, secret, time.Now())
}

func openAt(container, secret []byte, now time.Time) (*SigningIdentity, error) {
	var (
		key  *rsa.PrivateKey
		cert *x509.Certificate
		err  error
	)

	if bytes.Contains(container, []byte("-----BEGIN")) {
		key, cert, err = decodePEM(container, secret)
	} else {
		key, cert, err = decodePKCS12(container, secret)
	}
	if err != nil {
		return nil, err
	}

	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, errors.Wrapf(ErrExpiredCertificate, "valid %s to %s",
			cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339))
	}

	return &SigningIdentity{
		PrivateKey:  key,
		Certificate: cert,
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
	}, nil
}

// WithIdentity adquisición con alcance: abre el contenedor, ejecuta fn y
// garantiza Scrub en todas las rutas de salida, incluidas las de error.
func WithIdentity(container, secret []byte, fn func(*SigningIdentity) error) error {
	id, err := Open(container, secret)
	if err != nil {
		return err
	}
	defer id.Scrub()
	return fn(id)
}

// decodePKCS12 las safe bags pueden traer la llave en PKCS#8 plano o
// envuelto (shrouded); el decodificador acepta ambas codificaciones.
func decodePKCS12(container, secret []byte) (*rsa.PrivateKey, *x509.Certificate, error) {
	keyAny, cert, err := pkcs12.Decode(container, string(secret))
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) || errors.Is(err, pkcs12.ErrDecryption) {
			return nil, nil, ErrInvalidSecret
		}
		return nil, nil, errors.Wrap(ErrCorruptContainer, err.Error())
	}

	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, errors.Wrapf(ErrCorruptContainer, "unsupported key type %T", keyAny)
	}
	return key, cert, nil
}

func decodePEM(container, secret []byte) (*rsa.PrivateKey, *x509.Certificate, error) {
	var (
		key  *rsa.PrivateKey
		cert *x509.Certificate
	)

	rest := container
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		switch block.Type {
		case "ENCRYPTED PRIVATE KEY":
			if key != nil {
				return nil, nil, errors.Wrap(ErrCorruptContainer, "more than one private key")
			}
			keyAny, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, secret)
			if err != nil {
				// el fallo de descifrado es la señal de PIN incorrecto
				return nil, nil, ErrInvalidSecret
			}
			k, ok := keyAny.(*rsa.PrivateKey)
			if !ok {
				return nil, nil, errors.Wrapf(ErrCorruptContainer, "unsupported key type %T", keyAny)
			}
			key = k

		case "CERTIFICATE":
			if cert != nil {
				return nil, nil, errors.Wrap(ErrCorruptContainer, "more than one certificate")
			}
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, errors.Wrap(ErrCorruptContainer, "parse certificate")
			}
			cert = c
		}
	}

	if key == nil {
		return nil, nil, errors.Wrap(ErrCorruptContainer, "no private key bag")
	}
	if cert == nil {
		return nil, nil, errors.Wrap(ErrCorruptContainer, "no certificate bag")
	}
	return key, cert, nil
}
