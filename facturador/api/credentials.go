package api

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/facturacr/go-facturador/facturador"
	"github.com/facturacr/go-facturador/facturador/auth"
	"github.com/facturacr/go-facturador/facturador/cipher"
	"github.com/facturacr/go-facturador/facturador/storage"
)

// StoreResolver resuelve credenciales desde persistencia y descifra la
// contraseña del IDP con la llave maestra. La contraseña descifrada vive
// solo en el valor devuelto.
type StoreResolver struct {
	store     storage.Store
	masterKey []byte
	env       facturador.Environment
}

func NewStoreResolver(store storage.Store, masterKey []byte, env facturador.Environment) *StoreResolver {
	return &StoreResolver{store: store, masterKey: masterKey, env: env}
}

func (r *StoreResolver) Resolve(ctx context.Context, orgID string) (auth.Credentials, error) {
	row, err := r.store.Credentials(ctx, orgID)
	if err != nil {
		return auth.Credentials{}, errors.Wrap(err, "load credentials")
	}

	password, err := cipher.Decrypt(row.IDPPasswordEnc, r.masterKey)
	if err != nil {
		return auth.Credentials{}, errors.Wrap(err, "decrypt IDP password")
	}

	return auth.Credentials{
		Username: row.IDPUser,
		Password: string(password),
		ClientID: r.env.ClientID(),
		TokenURL: r.env.TokenURL(),
	}, nil
}

// VaultPIN descifra el PIN del contenedor de llaves de la organización.
func (r *StoreResolver) VaultPIN(ctx context.Context, orgID string) ([]byte, error) {
	row, err := r.store.Credentials(ctx, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "load credentials")
	}
	pin, err := cipher.Decrypt(row.VaultPINEnc, r.masterKey)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt vault PIN")
	}
	return pin, nil
}
