package qr

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturacr/go-facturador/facturador"
)

const testClave = "50600310112345626081400100001010000000042112345678"

func TestVerificationLink(t *testing.T) {

	require.Len(t, testClave, 50)

	link, err := VerificationLink(facturador.Sandbox, testClave, "3101123456")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(link, "https://api-sandbox.comprobanteselectronicos.go.cr/consulta?"))
	assert.Contains(t, link, "clave="+testClave)
	assert.Contains(t, link, "emisor=3101123456")

	link, err = VerificationLink(facturador.Prod, testClave, "3101123456")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://api.comprobanteselectronicos.go.cr/consulta?"))
}

func TestVerificationLink_InvalidClave(t *testing.T) {

	_, err := VerificationLink(facturador.Sandbox, "demasiado-corta", "3101123456")
	assert.Error(t, err)
}

func TestPNG(t *testing.T) {

	link, err := VerificationLink(facturador.Sandbox, testClave, "3101123456")
	require.NoError(t, err)

	png, err := PNG(link, 256)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	// tamaño inválido cae al por defecto
	png, err = PNG(link, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, png)
}
