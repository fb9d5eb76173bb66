package crypto

import (
	"crypto/md5"
)

// EVPBytesToKey implements OpenSSL's EVP_BytesToKey with MD5 and a single
// round: D_i = MD5(D_{i-1} || passphrase || salt), concatenated until
// keyLen+ivLen bytes are available.
func EVPBytesToKey(passphrase, salt []byte, keyLen, ivLen int) (key, iv []byte) {
	need := keyLen + ivLen
	derived := make([]byte, 0, need+md5.Size)

	var prev []byte
	for len(derived) < need {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}

	key = make([]byte, keyLen)
	iv = make([]byte, ivLen)
	copy(key, derived[:keyLen])
	copy(iv, derived[keyLen:need])
	return key, iv
}

// splitSalted splits an OpenSSL "Salted__" envelope into salt and body.
// ok is false when the marker is absent.
func splitSalted(ciphertext []byte) (salt, body []byte, ok bool) {
	if len(ciphertext) < SaltedHeaderSize || string(ciphertext[:len(SaltedMagic)]) != SaltedMagic {
		return nil, nil, false
	}
	return ciphertext[len(SaltedMagic):SaltedHeaderSize], ciphertext[SaltedHeaderSize:], true
}
