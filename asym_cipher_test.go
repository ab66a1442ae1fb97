package soter

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"hash"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/WilliamRen/themis/hashtype"
	. "github.com/WilliamRen/themis/interfaces"
	"github.com/WilliamRen/themis/rsakey"
)

func generatedContext(t *testing.T, opts ...Option) *AsymCipherContext {
	ctx, err := New(PaddingOAEP, opts...)
	assert.NoError(t, err)
	err = ctx.GenKey()
	assert.NoError(t, err)
	return ctx
}

func encryptAll(t *testing.T, ctx *AsymCipherContext, plaintext []byte) []byte {
	_, err := ctx.Encrypt(plaintext, nil)
	required, ok := BufferTooSmall(err)
	assert.True(t, ok)
	buf := make([]byte, required)
	n, err := ctx.Encrypt(plaintext, buf)
	assert.NoError(t, err)
	return buf[:n]
}

func decryptAll(t *testing.T, ctx *AsymCipherContext, ciphertext []byte) []byte {
	required, err := ctx.DecryptSize()
	assert.NoError(t, err)
	buf := make([]byte, required)
	n, err := ctx.Decrypt(ciphertext, buf)
	assert.NoError(t, err)
	return buf[:n]
}

func exportAll(t *testing.T, ctx *AsymCipherContext, private bool) []byte {
	_, err := ctx.ExportKey(nil, private)
	required, ok := BufferTooSmall(err)
	assert.True(t, ok)
	buf := make([]byte, required)
	n, err := ctx.ExportKey(buf, private)
	assert.NoError(t, err)
	return buf[:n]
}

func TestPaddingValidation(t *testing.T) {
	_, err := New(Padding(0))
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	_, err = New(Padding(42))
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}

func TestRoundTrip(t *testing.T) {
	ctx := generatedContext(t)
	defer ctx.Close()

	modSize, err := ctx.EncryptSize()
	assert.NoError(t, err)
	assert.Equal(t, 256, modSize)

	plaintext := []byte("This is a sentence.")
	ciphertext := encryptAll(t, ctx, plaintext)
	assert.Equal(t, modSize, len(ciphertext))

	decrypted := decryptAll(t, ctx, ciphertext)
	assert.True(t, bytes.Equal(plaintext, decrypted))
}

func TestSizeNegotiation(t *testing.T) {
	ctx := generatedContext(t)
	defer ctx.Close()

	plaintext := []byte("negotiate me")

	_, err := ctx.Encrypt(plaintext, nil)
	required, ok := BufferTooSmall(err)
	assert.True(t, ok)

	// One byte short still refuses, reporting the same size.
	_, err = ctx.Encrypt(plaintext, make([]byte, required-1))
	again, ok := BufferTooSmall(err)
	assert.True(t, ok)
	assert.Equal(t, required, again)

	n, err := ctx.Encrypt(plaintext, make([]byte, required))
	assert.NoError(t, err)
	assert.Equal(t, required, n)
}

func TestOAEPBoundary(t *testing.T) {
	ctx := generatedContext(t)
	defer ctx.Close()

	modSize, err := ctx.EncryptSize()
	assert.NoError(t, err)
	maxPlaintext := modSize - 2 - 2*hashtype.TypeSha1.Size()

	plaintext := make([]byte, maxPlaintext)
	_, err = rand.Read(plaintext)
	assert.NoError(t, err)

	ciphertext := encryptAll(t, ctx, plaintext)
	decrypted := decryptAll(t, ctx, ciphertext)
	assert.True(t, bytes.Equal(plaintext, decrypted))

	tooLong := make([]byte, maxPlaintext+1)
	_, err = ctx.Encrypt(tooLong, make([]byte, modSize))
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	ctx := generatedContext(t)
	defer ctx.Close()

	modSize, err := ctx.DecryptSize()
	assert.NoError(t, err)

	_, err = ctx.Decrypt(make([]byte, modSize-1), make([]byte, modSize))
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}

func TestDecryptBitFlip(t *testing.T) {
	ctx := generatedContext(t)
	defer ctx.Close()

	ciphertext := encryptAll(t, ctx, []byte("integrity matters"))
	ciphertext[len(ciphertext)/2] ^= 0x01

	_, err := ctx.Decrypt(ciphertext, make([]byte, len(ciphertext)))
	assert.True(t, errors.Is(err, ErrFail))
	assert.False(t, errors.Is(err, ErrInvalidParameter))
	_, tooSmall := BufferTooSmall(err)
	assert.False(t, tooSmall)
}

func TestExportImportPublic(t *testing.T) {
	priv := generatedContext(t)
	defer priv.Close()

	pubContainer := exportAll(t, priv, false)
	assert.Equal(t, rsakey.TagPublic, pubContainer[0])

	pub, err := New(PaddingOAEP)
	assert.NoError(t, err)
	defer pub.Close()
	err = pub.ImportKey(pubContainer)
	assert.NoError(t, err)
	assert.True(t, pub.CanEncrypt())
	assert.False(t, pub.CanDecrypt())

	plaintext := []byte("encrypted with an imported public half")
	ciphertext := encryptAll(t, pub, plaintext)
	decrypted := decryptAll(t, priv, ciphertext)
	assert.True(t, bytes.Equal(plaintext, decrypted))

	// The public-only context cannot decrypt.
	_, err = pub.Decrypt(ciphertext, make([]byte, len(ciphertext)))
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}

func TestExportImportPrivate(t *testing.T) {
	original := generatedContext(t)
	defer original.Close()

	privContainer := exportAll(t, original, true)
	assert.Equal(t, rsakey.TagPrivate, privContainer[0])

	imported, err := New(PaddingOAEP)
	assert.NoError(t, err)
	defer imported.Close()
	err = imported.ImportKey(privContainer)
	assert.NoError(t, err)
	assert.True(t, imported.CanDecrypt())

	plaintext := []byte("same key on both sides")
	ciphertext := encryptAll(t, original, plaintext)
	decrypted := decryptAll(t, imported, ciphertext)
	assert.True(t, bytes.Equal(plaintext, decrypted))
}

func TestImportRejects(t *testing.T) {
	ctx := generatedContext(t)
	defer ctx.Close()

	short := make([]byte, rsakey.HeaderSize-1)
	err := ctx.ImportKey(short)
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	badTag := make([]byte, rsakey.HeaderSize)
	badTag[0] = 'X'
	err = ctx.ImportKey(badTag)
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	garbage := make([]byte, rsakey.HeaderSize+16)
	garbage[0] = 'R'
	err = ctx.ImportKey(garbage)
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	// Failed imports leave the previously bound key untouched.
	plaintext := []byte("still bound")
	decrypted := decryptAll(t, ctx, encryptAll(t, ctx, plaintext))
	assert.True(t, bytes.Equal(plaintext, decrypted))
}

func TestMisuseBeforeBind(t *testing.T) {
	ctx, err := New(PaddingOAEP)
	assert.NoError(t, err)
	defer ctx.Close()

	_, err = ctx.Encrypt([]byte("no key yet"), make([]byte, 256))
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	_, err = ctx.Decrypt(make([]byte, 256), make([]byte, 256))
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	_, err = ctx.ExportKey(nil, false)
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	_, err = ctx.ExportKey(nil, true)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}

func TestGenKeyRebinds(t *testing.T) {
	ctx := generatedContext(t)
	defer ctx.Close()

	firstPub := exportAll(t, ctx, false)
	ciphertext := encryptAll(t, ctx, []byte("under the first key"))

	err := ctx.GenKey()
	assert.NoError(t, err)

	secondPub := exportAll(t, ctx, false)
	assert.False(t, bytes.Equal(firstPub, secondPub))

	// The rebound key works end to end.
	plaintext := []byte("under the second key")
	decrypted := decryptAll(t, ctx, encryptAll(t, ctx, plaintext))
	assert.True(t, bytes.Equal(plaintext, decrypted))

	// Ciphertext from the replaced key no longer decrypts.
	_, err = ctx.Decrypt(ciphertext, make([]byte, len(ciphertext)))
	assert.True(t, errors.Is(err, ErrFail))
}

func TestUseAfterClose(t *testing.T) {
	ctx := generatedContext(t)

	err := ctx.Close()
	assert.NoError(t, err)

	_, err = ctx.Encrypt([]byte("too late"), make([]byte, 256))
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	// Closing an already-empty context is not an error.
	assert.NoError(t, ctx.Close())
	assert.NoError(t, ctx.Cleanup())
}

func TestOAEPSha256(t *testing.T) {
	ctx := generatedContext(t, WithOAEPHash(hashtype.TypeSha256))
	defer ctx.Close()

	modSize, err := ctx.EncryptSize()
	assert.NoError(t, err)
	maxPlaintext := modSize - 2 - 2*hashtype.TypeSha256.Size()

	plaintext := make([]byte, maxPlaintext)
	_, err = rand.Read(plaintext)
	assert.NoError(t, err)

	decrypted := decryptAll(t, ctx, encryptAll(t, ctx, plaintext))
	assert.True(t, bytes.Equal(plaintext, decrypted))

	_, err = ctx.Encrypt(make([]byte, maxPlaintext+1), make([]byte, modSize))
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	// SHA-1 and SHA-256 ciphertexts are not interchangeable.
	legacy := generatedContext(t)
	defer legacy.Close()
	pub := exportAll(t, ctx, false)
	err = legacy.ImportKey(pub)
	assert.NoError(t, err)
	ciphertext := encryptAll(t, legacy, []byte("wrong digest"))
	_, err = ctx.Decrypt(ciphertext, make([]byte, modSize))
	assert.True(t, errors.Is(err, ErrFail))
}

/*
** Engine failure mapping
 */

type stubEngine struct {
	newKeyErr error
	key       EngineKey
}

type stubKey struct {
	alg KeyAlgorithm
}

func (k *stubKey) Algorithm() KeyAlgorithm { return k.alg }
func (k *stubKey) CanEncrypt() bool        { return false }
func (k *stubKey) CanDecrypt() bool        { return false }

func (e *stubEngine) NewKey(alg KeyAlgorithm) (EngineKey, error) {
	return e.key, e.newKeyErr
}

func (e *stubEngine) GenerateKey(key EngineKey, bits, publicExponent int) error {
	return fmt.Errorf("stub cannot generate")
}

func (e *stubEngine) ModulusSize(key EngineKey) (int, error) {
	return 0, fmt.Errorf("stub has no modulus")
}

func (e *stubEngine) EncryptOAEP(key EngineKey, hashFunc func() hash.Hash, plaintext []byte) ([]byte, error) {
	return nil, fmt.Errorf("stub cannot encrypt")
}

func (e *stubEngine) DecryptOAEP(key EngineKey, hashFunc func() hash.Hash, ciphertext []byte) ([]byte, error) {
	return nil, fmt.Errorf("stub cannot decrypt")
}

func (e *stubEngine) FreeKey(key EngineKey) {}

func TestEngineFailureMapping(t *testing.T) {
	// Engine cannot allocate a key handle.
	_, err := New(PaddingOAEP, WithEngine(&stubEngine{newKeyErr: fmt.Errorf("out of handles")}))
	assert.True(t, errors.Is(err, ErrNoMemory))

	// Engine cannot bind the RSA algorithm.
	_, err = New(PaddingOAEP, WithEngine(&stubEngine{key: &stubKey{alg: AlgorithmNone}}))
	assert.True(t, errors.Is(err, ErrFail))

	// Engine rejects key generation.
	ctx, err := New(PaddingOAEP, WithEngine(&stubEngine{key: &stubKey{alg: AlgorithmRSA}}))
	assert.NoError(t, err)
	defer ctx.Close()
	err = ctx.GenKey()
	assert.True(t, errors.Is(err, ErrFail))
}
