package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// EncryptCBC pads plaintext with PKCS#7 and encrypts it with AES-CBC.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(iv) != BlockSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", BlockSize, len(iv))
	}

	padded := Pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// EncryptSalted produces an OpenSSL "Salted__" envelope keyed with
// EVP_BytesToKey(passphrase, salt).
func EncryptSalted(passphrase, salt, plaintext []byte, keyLen int) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}

	key, iv := EVPBytesToKey(passphrase, salt, keyLen, BlockSize)
	body, err := EncryptCBC(key, iv, plaintext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, SaltedHeaderSize+len(body))
	out = append(out, SaltedMagic...)
	out = append(out, salt...)
	return append(out, body...), nil
}

// Seal encrypts plaintext in the envelope the given strategy decodes.
func Seal(s KeyDerivation, plaintext []byte, password, deviceID string, nonce []byte) ([]byte, error) {
	sealer, ok := s.(Sealer)
	if !ok {
		return nil, fmt.Errorf("strategy %s cannot seal", s.Name())
	}
	return sealer.Seal(plaintext, password, deviceID, nonce)
}

// SealString is Seal followed by standard base64 encoding.
func SealString(s KeyDerivation, plaintext []byte, password, deviceID string, nonce []byte) (string, error) {
	ct, err := Seal(s, plaintext, password, deviceID, nonce)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// decryptCBC decrypts body into a fresh buffer; body is left untouched.
func decryptCBC(key, iv, body []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(iv) != BlockSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", BlockSize, len(iv))
	}
	if len(body) == 0 || len(body)%BlockSize != 0 {
		return nil, ErrStrategyNotApplicable
	}

	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	return out, nil
}
