package soter

import (
	"fmt"

	"github.com/WilliamRen/themis/hashtype"
	. "github.com/WilliamRen/themis/interfaces"
	"github.com/WilliamRen/themis/rsaengine"
	"github.com/WilliamRen/themis/rsakey"
	"github.com/WilliamRen/themis/securemem"
)

/*
** TYPES
 */

type Padding int

// Only OAEP is accepted. The parameter exists to support more paddings in
// the future.
const PaddingOAEP Padding = 1

const (
	// Key generation parameters are set explicitly rather than taken from
	// engine defaults, which have been observed to differ between
	// implementations (1024 vs 2048 bit moduli, varying exponents).
	genKeyBits           = 2048
	genKeyPublicExponent = 65537
)

// AsymCipherContext drives the lifecycle of one engine key handle:
// init, then key generation or import, then any number of encrypt/decrypt
// or export calls, then Close. The handle is exclusively owned and
// released exactly once. A context is not safe for concurrent use; use
// one context per goroutine or synchronize externally.
type AsymCipherContext struct {
	padding  Padding
	oaepHash *hashtype.HashType
	engine   CryptoEngine
	codec    KeyCodec
	key      EngineKey
}

type Option func(*AsymCipherContext)

// WithEngine replaces the default crypto/rsa-backed engine.
func WithEngine(engine CryptoEngine) Option {
	return func(c *AsymCipherContext) { c.engine = engine }
}

// WithKeyCodec replaces the default tagged-container key codec.
func WithKeyCodec(codec KeyCodec) Option {
	return func(c *AsymCipherContext) { c.codec = codec }
}

// WithOAEPHash selects the OAEP mask-generation digest. The default is
// SHA-1 for wire compatibility with existing ciphertexts.
func WithOAEPHash(hashType *hashtype.HashType) Option {
	return func(c *AsymCipherContext) { c.oaepHash = hashType }
}

/*
** LIFECYCLE
 */

// New allocates and initializes a context. The returned context holds an
// empty RSA key slot: generate or import a key before encrypting.
func New(padding Padding, opts ...Option) (*AsymCipherContext, error) {
	ctx := &AsymCipherContext{}
	for _, opt := range opts {
		opt(ctx)
	}
	if err := ctx.Init(padding); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Init binds an engine key handle restricted to the RSA algorithm family.
// On any failure the context is left without partially-created state.
func (c *AsymCipherContext) Init(padding Padding) error {
	if c == nil {
		return ErrInvalidParameter
	}
	if padding != PaddingOAEP {
		return fmt.Errorf("%w: only OAEP padding is supported", ErrInvalidParameter)
	}
	if c.key != nil {
		return fmt.Errorf("%w: context is already initialized", ErrInvalidParameter)
	}
	if c.engine == nil {
		c.engine = rsaengine.Default()
	}
	if c.codec == nil {
		c.codec = rsakey.Codec{}
	}
	if c.oaepHash == nil {
		c.oaepHash = hashtype.TypeSha1
	}
	key, err := c.engine.NewKey(AlgorithmRSA)
	if err != nil {
		return fmt.Errorf("%w: engine cannot allocate a key handle: %v", ErrNoMemory, err)
	}
	if key == nil || key.Algorithm() != AlgorithmRSA {
		if key != nil {
			c.engine.FreeKey(key)
		}
		return fmt.Errorf("%w: engine did not bind the RSA algorithm", ErrFail)
	}
	c.padding = padding
	c.key = key
	return nil
}

// Cleanup releases the engine key handle if one is held. Safe to call on a
// context that never bound a key, and after a previous Cleanup.
func (c *AsymCipherContext) Cleanup() error {
	if c == nil {
		return ErrInvalidParameter
	}
	if c.key != nil {
		c.engine.FreeKey(c.key)
		c.key = nil
	}
	return nil
}

// Close releases the context. Equivalent to Cleanup; the context memory
// itself is garbage collected, so unlike the handle there is no separate
// free step that could be skipped on failure.
func (c *AsymCipherContext) Close() error {
	return c.Cleanup()
}

/*
** KEY MANAGEMENT
 */

// GenKey generates a fresh 2048-bit RSA key with the F4 public exponent
// into the bound slot. Calling it on a context that already holds a key
// rebinds the slot to the new key.
func (c *AsymCipherContext) GenKey() error {
	if _, err := c.boundHandle(); err != nil {
		return err
	}
	if err := c.engine.GenerateKey(c.key, genKeyBits, genKeyPublicExponent); err != nil {
		return fmt.Errorf("%w: key generation: %v", ErrFail, err)
	}
	return nil
}

// ImportKey replaces the bound key with one decoded from a tagged key
// container. On any failure the previously bound key is left untouched.
func (c *AsymCipherContext) ImportKey(data []byte) error {
	if _, err := c.boundHandle(); err != nil {
		return err
	}
	if len(data) < rsakey.HeaderSize {
		return fmt.Errorf("%w: key container shorter than header", ErrInvalidParameter)
	}

	var imported EngineKey
	var err error
	switch rsakey.Tag(data) {
	case rsakey.TagPrivate:
		imported, err = c.codec.DecodePrivate(data)
	case rsakey.TagPublic:
		imported, err = c.codec.DecodePublic(data)
	default:
		return fmt.Errorf("%w: unknown key container tag %q", ErrInvalidParameter, rsakey.Tag(data))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	c.engine.FreeKey(c.key)
	c.key = imported
	return nil
}

// ExportKey serializes the bound key into dst as a tagged key container
// and returns the number of bytes written. A dst shorter than the
// container yields BufferTooSmallError carrying the required size, with
// nothing written.
func (c *AsymCipherContext) ExportKey(dst []byte, private bool) (int, error) {
	key, err := c.boundHandle()
	if err != nil {
		return 0, err
	}
	if private && !key.CanDecrypt() {
		return 0, fmt.Errorf("%w: context holds no private key material", ErrInvalidParameter)
	}
	if !private && !key.CanEncrypt() {
		return 0, fmt.Errorf("%w: context holds no public key material", ErrInvalidParameter)
	}

	var container []byte
	if private {
		container, err = c.codec.EncodePrivate(key)
	} else {
		container, err = c.codec.EncodePublic(key)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFail, err)
	}
	if private {
		defer securemem.Wipe(container)
	}
	if len(dst) < len(container) {
		return 0, &BufferTooSmallError{Required: len(container)}
	}
	return copy(dst, container), nil
}

/*
** ENCRYPT / DECRYPT
 */

// EncryptSize returns the exact ciphertext size produced by Encrypt: one
// modulus block.
func (c *AsymCipherContext) EncryptSize() (int, error) {
	return c.modulusSize()
}

// DecryptSize returns the buffer size Decrypt requires. OAEP plaintexts
// are shorter than a modulus block, so this is an upper bound; Decrypt
// reports the actual length.
func (c *AsymCipherContext) DecryptSize() (int, error) {
	return c.modulusSize()
}

// Encrypt OAEP-encrypts plaintext into dst and returns the number of
// bytes written. A dst shorter than one modulus block yields
// BufferTooSmallError with the required size, with nothing written.
func (c *AsymCipherContext) Encrypt(plaintext, dst []byte) (int, error) {
	key, err := c.boundHandle()
	if err != nil {
		return 0, err
	}
	if len(plaintext) == 0 {
		return 0, fmt.Errorf("%w: empty plaintext", ErrInvalidParameter)
	}
	if !key.CanEncrypt() {
		return 0, fmt.Errorf("%w: context holds no public key material", ErrInvalidParameter)
	}
	modSize, err := c.modulusSize()
	if err != nil {
		return 0, err
	}
	maxPlaintext := modSize - 2 - 2*c.oaepHash.Size()
	if len(plaintext) > maxPlaintext {
		return 0, fmt.Errorf("%w: plaintext exceeds OAEP limit of %v bytes for this key", ErrInvalidParameter, maxPlaintext)
	}
	if len(dst) < modSize {
		return 0, &BufferTooSmallError{Required: modSize}
	}
	ciphertext, err := c.engine.EncryptOAEP(key, c.oaepHash.HashFunc, plaintext)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFail, err)
	}
	return copy(dst, ciphertext), nil
}

// Decrypt OAEP-decrypts ciphertext into dst and returns the number of
// bytes written. Any unpad or integrity failure is reported as the
// undifferentiated ErrFail.
func (c *AsymCipherContext) Decrypt(ciphertext, dst []byte) (int, error) {
	key, err := c.boundHandle()
	if err != nil {
		return 0, err
	}
	if len(ciphertext) == 0 {
		return 0, fmt.Errorf("%w: empty ciphertext", ErrInvalidParameter)
	}
	if !key.CanDecrypt() {
		return 0, fmt.Errorf("%w: context holds no private key material", ErrInvalidParameter)
	}
	modSize, err := c.modulusSize()
	if err != nil {
		return 0, err
	}
	if len(ciphertext) < modSize {
		return 0, fmt.Errorf("%w: ciphertext shorter than one modulus block of %v bytes", ErrInvalidParameter, modSize)
	}
	if len(dst) < modSize {
		return 0, &BufferTooSmallError{Required: modSize}
	}
	plaintext, err := c.engine.DecryptOAEP(key, c.oaepHash.HashFunc, ciphertext)
	if err != nil {
		// Deliberately undifferentiated: padding detail must not leak.
		return 0, ErrFail
	}
	n := copy(dst, plaintext)
	securemem.Wipe(plaintext)
	return n, nil
}

/*
** INTROSPECTION
 */

func (c *AsymCipherContext) CanEncrypt() bool {
	return c != nil && c.key != nil && c.key.CanEncrypt()
}

func (c *AsymCipherContext) CanDecrypt() bool {
	return c != nil && c.key != nil && c.key.CanDecrypt()
}

func (c *AsymCipherContext) OAEPHash() *hashtype.HashType {
	return c.oaepHash
}

func (c *AsymCipherContext) boundHandle() (EngineKey, error) {
	if c == nil || c.key == nil {
		return nil, fmt.Errorf("%w: context holds no key handle", ErrInvalidParameter)
	}
	if c.key.Algorithm() != AlgorithmRSA {
		return nil, fmt.Errorf("%w: bound key is not RSA", ErrInvalidParameter)
	}
	return c.key, nil
}

func (c *AsymCipherContext) modulusSize() (int, error) {
	key, err := c.boundHandle()
	if err != nil {
		return 0, err
	}
	modSize, err := c.engine.ModulusSize(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return modSize, nil
}
