package crypto

import (
	"crypto/aes"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// BlockSize is the AES block size; every ciphertext body is a multiple of it.
	BlockSize = aes.BlockSize

	// OpenSSL "Salted__" envelope
	SaltedMagic      = "Salted__"
	SaltSize         = 8
	SaltedHeaderSize = len(SaltedMagic) + SaltSize

	// CookieCloud passphrase length (hex chars of the MD5 digest)
	cookieCloudPassLen = 16
)

// Secret is the output of a key derivation: the cipher key, the IV and the
// part of the ciphertext that remains to be decrypted.
type Secret struct {
	Key  []byte
	IV   []byte
	Body []byte
}

// KeyDerivation turns a password (and optionally a device identifier) into a
// Secret for a given ciphertext. Implementations return
// ErrStrategyNotApplicable when the ciphertext does not fit their envelope.
type KeyDerivation interface {
	Name() string
	Derive(password, deviceID string, ciphertext []byte) (Secret, error)
}

// Sealer is implemented by strategies that can produce ciphertext in their
// own envelope. nonce is the IV or salt; a random one is used when nil.
type Sealer interface {
	Seal(plaintext []byte, password, deviceID string, nonce []byte) ([]byte, error)
}

// DefaultStrategies returns the derivation chain in the order it is tried.
func DefaultStrategies() []KeyDerivation {
	return []KeyDerivation{
		MD5Digest(),
		DeviceMD5Hex(),
		OpenSSLEVP(),
		OpenSSLEVPRaw(),
		MD5Hex(),
		MD5HexPrefix(),
		CookieCloud(),
	}
}

// StrategyNames lists the names of DefaultStrategies in order.
func StrategyNames() []string {
	strategies := DefaultStrategies()
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.Name()
	}
	return names
}

// StrategyByName returns the default strategy with the given name.
func StrategyByName(name string) (KeyDerivation, error) {
	for _, s := range DefaultStrategies() {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown key derivation strategy %q", name)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func zeroIV() []byte {
	return make([]byte, BlockSize)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	return b, nil
}

// md5DigestStrategy: key = MD5(password), zero IV.
type md5DigestStrategy struct{}

// MD5Digest keys AES-128 with the raw MD5 digest of the password and a zero IV.
func MD5Digest() KeyDerivation { return md5DigestStrategy{} }

func (md5DigestStrategy) Name() string { return "md5-digest" }

func (md5DigestStrategy) Derive(password, _ string, ciphertext []byte) (Secret, error) {
	sum := md5.Sum([]byte(password))
	return Secret{Key: sum[:], IV: zeroIV(), Body: ciphertext}, nil
}

func (s md5DigestStrategy) Seal(plaintext []byte, password, deviceID string, _ []byte) ([]byte, error) {
	secret, _ := s.Derive(password, deviceID, nil)
	return EncryptCBC(secret.Key, secret.IV, plaintext)
}

// deviceMD5HexStrategy: key = hex(MD5(deviceID || password)), IV = first block.
type deviceMD5HexStrategy struct{}

// DeviceMD5Hex keys AES-256 with the hex MD5 of device ID and password; the
// IV travels as the first ciphertext block.
func DeviceMD5Hex() KeyDerivation { return deviceMD5HexStrategy{} }

func (deviceMD5HexStrategy) Name() string { return "device-md5-hex" }

func (deviceMD5HexStrategy) Derive(password, deviceID string, ciphertext []byte) (Secret, error) {
	if len(ciphertext) < 2*BlockSize {
		return Secret{}, ErrStrategyNotApplicable
	}
	return Secret{
		Key:  []byte(md5Hex(deviceID + password)),
		IV:   ciphertext[:BlockSize],
		Body: ciphertext[BlockSize:],
	}, nil
}

func (deviceMD5HexStrategy) Seal(plaintext []byte, password, deviceID string, nonce []byte) ([]byte, error) {
	iv := nonce
	if iv == nil {
		var err error
		if iv, err = randomBytes(BlockSize); err != nil {
			return nil, err
		}
	}
	if len(iv) != BlockSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", BlockSize, len(iv))
	}

	body, err := EncryptCBC([]byte(md5Hex(deviceID+password)), iv, plaintext)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, iv...), body...), nil
}

// evpStrategy derives key and IV with EVP_BytesToKey.
type evpStrategy struct {
	name        string
	keyLen      int
	requireSalt bool
	passphrase  func(password, deviceID string) []byte
}

// OpenSSLEVP runs EVP_BytesToKey over the hex MD5 of the password, using the
// embedded salt when a Salted__ header is present and a zero salt otherwise.
func OpenSSLEVP() KeyDerivation {
	return evpStrategy{
		name:   "openssl-evp",
		keyLen: 16,
		passphrase: func(password, _ string) []byte {
			return []byte(md5Hex(password))
		},
	}
}

// OpenSSLEVPRaw is OpenSSLEVP with the password itself as the passphrase.
func OpenSSLEVPRaw() KeyDerivation {
	return evpStrategy{
		name:   "openssl-evp-raw",
		keyLen: 16,
		passphrase: func(password, _ string) []byte {
			return []byte(password)
		},
	}
}

// CookieCloud matches the CookieCloud browser extension: CryptoJS AES-256
// with passphrase MD5(deviceID + "-" + password)[:16]. It needs a device ID
// and a Salted__ header.
func CookieCloud() KeyDerivation {
	return evpStrategy{
		name:        "cookiecloud",
		keyLen:      32,
		requireSalt: true,
		passphrase: func(password, deviceID string) []byte {
			if deviceID == "" {
				return nil
			}
			return []byte(md5Hex(deviceID + "-" + password)[:cookieCloudPassLen])
		},
	}
}

func (s evpStrategy) Name() string { return s.name }

func (s evpStrategy) Derive(password, deviceID string, ciphertext []byte) (Secret, error) {
	pass := s.passphrase(password, deviceID)
	if pass == nil {
		return Secret{}, ErrStrategyNotApplicable
	}

	salt, body, ok := splitSalted(ciphertext)
	if !ok {
		if s.requireSalt {
			return Secret{}, ErrStrategyNotApplicable
		}
		salt, body = make([]byte, SaltSize), ciphertext
	}
	if len(body) == 0 || len(body)%BlockSize != 0 {
		return Secret{}, ErrStrategyNotApplicable
	}

	key, iv := EVPBytesToKey(pass, salt, s.keyLen, BlockSize)
	return Secret{Key: key, IV: iv, Body: body}, nil
}

func (s evpStrategy) Seal(plaintext []byte, password, deviceID string, nonce []byte) ([]byte, error) {
	pass := s.passphrase(password, deviceID)
	if pass == nil {
		return nil, fmt.Errorf("%s: device id required", s.name)
	}

	salt := nonce
	if salt == nil {
		var err error
		if salt, err = randomBytes(SaltSize); err != nil {
			return nil, err
		}
	}
	return EncryptSalted(pass, salt, plaintext, s.keyLen)
}

// md5HexStrategy: key = hex(MD5(password)) as ASCII, optionally truncated.
type md5HexStrategy struct {
	name   string
	keyLen int
}

// MD5Hex keys AES-256 with the 32 hex characters of MD5(password), zero IV.
func MD5Hex() KeyDerivation { return md5HexStrategy{name: "md5-hex", keyLen: 32} }

// MD5HexPrefix keys AES-128 with the first 16 hex characters of MD5(password).
func MD5HexPrefix() KeyDerivation { return md5HexStrategy{name: "md5-hex-prefix", keyLen: 16} }

func (s md5HexStrategy) Name() string { return s.name }

func (s md5HexStrategy) Derive(password, _ string, ciphertext []byte) (Secret, error) {
	key := []byte(md5Hex(password))[:s.keyLen]
	return Secret{Key: key, IV: zeroIV(), Body: ciphertext}, nil
}

func (s md5HexStrategy) Seal(plaintext []byte, password, deviceID string, _ []byte) ([]byte, error) {
	secret, _ := s.Derive(password, deviceID, nil)
	return EncryptCBC(secret.Key, secret.IV, plaintext)
}
