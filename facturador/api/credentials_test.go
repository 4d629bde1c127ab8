package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturacr/go-facturador/facturador"
	"github.com/facturacr/go-facturador/facturador/cipher"
	"github.com/facturacr/go-facturador/facturador/storage"
)

func TestStoreResolver(t *testing.T) {

	key, err := cipher.GenerateKey()
	require.NoError(t, err)

	passwordEnc, err := cipher.Encrypt([]byte("contrasena-idp"), key)
	require.NoError(t, err)
	pinEnc, err := cipher.Encrypt([]byte("1234"), key)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	store.PutCredentials(&storage.CredentialsRow{
		OrgID:          "org-1",
		IDPUser:        "cpj-02-3101-123456@stag.comprobanteselectronicos.go.cr",
		IDPPasswordEnc: passwordEnc,
		VaultPINEnc:    pinEnc,
	})

	r := NewStoreResolver(store, key, facturador.Sandbox)

	creds, err := r.Resolve(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "cpj-02-3101-123456@stag.comprobanteselectronicos.go.cr", creds.Username)
	assert.Equal(t, "contrasena-idp", creds.Password)
	assert.Equal(t, "api-stag", creds.ClientID)
	assert.Contains(t, creds.TokenURL, "rut-stag")

	pin, err := r.VaultPIN(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("1234"), pin)
}

func TestStoreResolver_UnknownOrg(t *testing.T) {

	key, err := cipher.GenerateKey()
	require.NoError(t, err)
	r := NewStoreResolver(storage.NewMemoryStore(), key, facturador.Sandbox)

	_, err = r.Resolve(context.Background(), "org-x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreResolver_WrongMasterKey(t *testing.T) {

	key, err := cipher.GenerateKey()
	require.NoError(t, err)
	other, err := cipher.GenerateKey()
	require.NoError(t, err)

	passwordEnc, err := cipher.Encrypt([]byte("contrasena-idp"), key)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	store.PutCredentials(&storage.CredentialsRow{OrgID: "org-1", IDPUser: "u", IDPPasswordEnc: passwordEnc})

	r := NewStoreResolver(store, other, facturador.Sandbox)

	creds, err := r.Resolve(context.Background(), "org-1")
	if err == nil {
		// el padding puede decodificar por azar, pero jamás al original
		assert.NotEqual(t, "contrasena-idp", creds.Password)
	}
}
