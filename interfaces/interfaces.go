package interfaces

import "hash"

type KeyAlgorithm int

const (
	AlgorithmNone KeyAlgorithm = iota
	AlgorithmRSA
)

func (a KeyAlgorithm) String() string {
	switch a {
	case AlgorithmRSA:
		return "RSA"
	default:
		return "NONE"
	}
}

// EngineKey is an opaque handle to an engine-side key slot. A handle is
// created empty (algorithm bound, no key material) and gains material
// through generation or import.
type EngineKey interface {
	Algorithm() KeyAlgorithm
	CanEncrypt() bool
	CanDecrypt() bool
}

// CryptoEngine is the cryptographic provider behind a cipher context.
// Implementations own the big-number arithmetic, randomness and padding;
// callers own the handle lifecycle and must call FreeKey exactly once.
type CryptoEngine interface {
	NewKey(alg KeyAlgorithm) (EngineKey, error)
	GenerateKey(key EngineKey, bits int, publicExponent int) error
	ModulusSize(key EngineKey) (int, error)
	EncryptOAEP(key EngineKey, hashFunc func() hash.Hash, plaintext []byte) ([]byte, error)
	DecryptOAEP(key EngineKey, hashFunc func() hash.Hash, ciphertext []byte) ([]byte, error)
	FreeKey(key EngineKey)
}

// KeyCodec converts between engine key handles and the tagged binary
// container format. Decode must not mutate any existing handle.
type KeyCodec interface {
	EncodePrivate(key EngineKey) ([]byte, error)
	EncodePublic(key EngineKey) ([]byte, error)
	DecodePrivate(data []byte) (EngineKey, error)
	DecodePublic(data []byte) (EngineKey, error)
}
