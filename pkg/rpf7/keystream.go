package rpf7

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// KeyProvider produces the keyed-XOR keystream used by NG mode. It must be
// pure (no dependency on ciphertext content) and safe for concurrent use: a
// given (name, lengthTag) pair always yields the same bytes.
//
// The real NG key schedule used by the target game is not bundled here.
// A provider either supplies the real key material for a targeted game
// version, or returns ErrUnsupportedEncryption; see UnavailableKeyProvider.
type KeyProvider interface {
	// Keystream returns a byte stream at least minLength bytes long for the
	// given (lowercased) name and 32-bit size tag, or
	// ErrUnsupportedEncryption if no key material is available.
	Keystream(name string, lengthTag uint32, minLength int) ([]byte, error)
}

// UnavailableKeyProvider always reports that NG key material is absent. It
// is the default provider: the module carries no verified NG key schedule.
type UnavailableKeyProvider struct{}

// Keystream implements KeyProvider.
func (UnavailableKeyProvider) Keystream(name string, lengthTag uint32, minLength int) ([]byte, error) {
	return nil, ErrUnsupportedEncryption
}

// fakeDigestKeyProvider is a deterministic, clearly-labeled stand-in for
// tests: it derives a keystream from SHA-256(name_lower || size_le32),
// repeated to the requested length. It is NOT the game's real NG
// derivation and must never be wired in as the default; it exists so unit
// tests can exercise the NG code path deterministically.
type fakeDigestKeyProvider struct{}

// Keystream implements KeyProvider.
func (fakeDigestKeyProvider) Keystream(name string, lengthTag uint32, minLength int) ([]byte, error) {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(name)))
	var tag [4]byte
	binary.LittleEndian.PutUint32(tag[:], lengthTag)
	h.Write(tag[:])
	digest := h.Sum(nil)

	out := make([]byte, minLength)
	for i := range out {
		out[i] = digest[i%len(digest)]
	}
	return out, nil
}

// xorKeystream XORs src against the keystream produced by provider for
// (name, lengthTag), cycling the keystream modulo its length when src is
// longer than one keystream unit. It returns a new buffer; src is untouched.
func xorKeystream(provider KeyProvider, name string, lengthTag uint32, src []byte) ([]byte, error) {
	stream, err := provider.Keystream(name, lengthTag, len(src))
	if err != nil {
		return nil, err
	}
	if len(stream) == 0 {
		return nil, ErrUnsupportedEncryption
	}
	out := make([]byte, len(src))
	for i := range src {
		out[i] = src[i] ^ stream[i%len(stream)]
	}
	return out, nil
}
