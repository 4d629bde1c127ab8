// Package cipher cifra y descifra secretos en reposo (contraseñas del IDP,
// PIN del contenedor de llaves) con AES-256-CBC y relleno PKCS#7.
package cipher

import (
	"bytes"
	aes2 "crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"

	"github.com/go-faster/errors"
)

const keySize = 32

// GenerateKey genera una llave maestra aleatoria de 256 bits.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return key, nil
}

// Encrypt cifra content con AES-256-CBC. El IV aleatorio va antepuesto al
// resultado.
func Encrypt(content, key []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, errors.Errorf("invalid key length %d, expected %d bytes (AES-256)", len(key), keySize)
	}

	block, err := aes2.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "NewCipher")
	}

	iv := make([]byte, aes2.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "generate IV")
	}

	padded := pkcs7Pad(content, aes2.BlockSize)
	out := make([]byte, aes2.BlockSize+len(padded))
	copy(out, iv)

	mode := gocipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out[aes2.BlockSize:], padded)
	return out, nil
}

// Decrypt operación inversa de Encrypt.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, errors.Errorf("invalid key length %d, expected %d bytes (AES-256)", len(key), keySize)
	}
	if len(blob) < 2*aes2.BlockSize || len(blob)%aes2.BlockSize != 0 {
		return nil, errors.Errorf("invalid ciphertext length %d", len(blob))
	}

	block, err := aes2.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "NewCipher")
	}

	iv := blob[:aes2.BlockSize]
	out := make([]byte, len(blob)-aes2.BlockSize)

	mode := gocipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, blob[aes2.BlockSize:])

	return pkcs7Unpad(out, aes2.BlockSize)
}

func pkcs7Pad(src []byte, blockSize int) []byte {
	padLen := blockSize - (len(src) % blockSize)
	if padLen == 0 {
		padLen = blockSize
	}
	return append(src, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(src []byte, blockSize int) ([]byte, error) {
	if len(src) == 0 || len(src)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(src[len(src)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(src) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range src[len(src)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}
	return src[:len(src)-padLen], nil
}
