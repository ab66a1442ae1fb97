package rsaengine

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"hash"

	. "github.com/WilliamRen/themis/interfaces"
)

// PublicExponentF4 is the Fermat F4 public exponent. The engine refuses to
// generate with anything else: crypto/rsa fixes the exponent at F4, and
// silently generating with a different one would break the caller's
// portability guarantee.
const PublicExponentF4 = 65537

/*
** Key handle
 */

// Key is the engine-side RSA key slot. A freshly created handle has the
// algorithm bound but no material.
type Key struct {
	alg  KeyAlgorithm
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
}

func NewPrivateKey(priv *rsa.PrivateKey) *Key {
	return &Key{alg: AlgorithmRSA, priv: priv, pub: &priv.PublicKey}
}

func NewPublicKey(pub *rsa.PublicKey) *Key {
	return &Key{alg: AlgorithmRSA, pub: pub}
}

func (k *Key) Algorithm() KeyAlgorithm {
	if k == nil {
		return AlgorithmNone
	}
	return k.alg
}

func (k *Key) CanEncrypt() bool {
	return k != nil && k.pub != nil
}

func (k *Key) CanDecrypt() bool {
	return k != nil && k.priv != nil
}

func (k *Key) Private() *rsa.PrivateKey {
	return k.priv
}

func (k *Key) Public() *rsa.PublicKey {
	return k.pub
}

/*
** Engine
 */

type Engine struct{}

func Default() *Engine {
	return &Engine{}
}

func (e *Engine) NewKey(alg KeyAlgorithm) (EngineKey, error) {
	if alg != AlgorithmRSA {
		return nil, fmt.Errorf("engine supports only the RSA algorithm, got %v", alg)
	}
	return &Key{alg: AlgorithmRSA}, nil
}

func (e *Engine) GenerateKey(key EngineKey, bits int, publicExponent int) error {
	k, ok := key.(*Key)
	if !ok || k.Algorithm() != AlgorithmRSA {
		return fmt.Errorf("key handle is not an RSA handle")
	}
	if publicExponent != PublicExponentF4 {
		return fmt.Errorf("unsupported public exponent %v, engine generates with F4 only", publicExponent)
	}
	if bits <= 0 {
		return fmt.Errorf("invalid modulus size %v", bits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return err
	}
	k.priv = priv
	k.pub = &priv.PublicKey
	return nil
}

func (e *Engine) ModulusSize(key EngineKey) (int, error) {
	k, ok := key.(*Key)
	if !ok || k.Algorithm() != AlgorithmRSA {
		return 0, fmt.Errorf("key handle is not an RSA handle")
	}
	if k.pub == nil {
		return 0, fmt.Errorf("key handle holds no key material")
	}
	return k.pub.Size(), nil
}

func (e *Engine) EncryptOAEP(key EngineKey, hashFunc func() hash.Hash, plaintext []byte) ([]byte, error) {
	k, ok := key.(*Key)
	if !ok || !k.CanEncrypt() {
		return nil, fmt.Errorf("key handle cannot encrypt")
	}
	return rsa.EncryptOAEP(hashFunc(), rand.Reader, k.pub, plaintext, nil)
}

func (e *Engine) DecryptOAEP(key EngineKey, hashFunc func() hash.Hash, ciphertext []byte) ([]byte, error) {
	k, ok := key.(*Key)
	if !ok || !k.CanDecrypt() {
		return nil, fmt.Errorf("key handle cannot decrypt")
	}
	return rsa.DecryptOAEP(hashFunc(), rand.Reader, k.priv, ciphertext, nil)
}

// FreeKey empties the handle. The material itself is garbage collected;
// clearing the fields makes use-after-free fail fast instead of reusing a
// released key.
func (e *Engine) FreeKey(key EngineKey) {
	k, ok := key.(*Key)
	if !ok {
		return
	}
	k.priv = nil
	k.pub = nil
	k.alg = AlgorithmNone
}
