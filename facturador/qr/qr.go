// Package qr genera el enlace y el código QR de verificación que acompaña
// la representación impresa del comprobante.
package qr

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/facturacr/go-facturador/facturador"
)

const claveLength = 50

// VerificationLink construye la URL de consulta pública del comprobante.
func VerificationLink(env facturador.Environment, clave, emisor string) (string, error) {
	if len(clave) != claveLength {
		return "", errors.Errorf("clave must have %d digits, got %d", claveLength, len(clave))
	}
	base := strings.TrimSuffix(env.BaseURL(), "/recepcion/v1")
	return fmt.Sprintf("%s/consulta?clave=%s&emisor=%s", base, clave, emisor), nil
}

// PNG codifica el enlace como QR de tamaño size x size píxeles.
func PNG(link string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "encode qr")
	}
	return png, nil
}
