package rsakey

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	. "github.com/WilliamRen/themis/interfaces"
	"github.com/WilliamRen/themis/rsaengine"
	"github.com/WilliamRen/themis/securemem"
)

// Container format:
//
//  -----------------------------------------------------------------
// | tag(4 bytes) | size(4 bytes BE) | crc(4 bytes BE) | DER payload |
//  -----------------------------------------------------------------
//
// The tag is "RSA"+class for private keys and "URA"+class for public keys,
// where class encodes the modulus size ('1' = 1024 ... '8' = 8192). The
// size field is the total container length including the header. The crc
// is an IEEE crc32 over the whole container with the crc field zeroed.
// Private payloads are PKCS#1 DER, public payloads are PKIX DER.

const (
	tagSize    = 4
	HeaderSize = 12

	// First tag byte, used by callers to dispatch before decoding.
	TagPrivate byte = 'R'
	TagPublic  byte = 'U'

	privateTagPrefix = "RSA"
	publicTagPrefix  = "URA"
)

var keySizeClasses = map[int]byte{
	1024: '1',
	2048: '2',
	4096: '4',
	8192: '8',
}

func sizeClass(bits int) (byte, error) {
	class, exists := keySizeClasses[bits]
	if !exists {
		return 0, fmt.Errorf("unsupported RSA modulus size: %v bits", bits)
	}
	return class, nil
}

// Tag returns the first tag byte of a container, used for private/public
// dispatch. The caller must have checked the container is at least
// HeaderSize long.
func Tag(data []byte) byte {
	return data[0]
}

type Codec struct{}

func (Codec) EncodePrivate(key EngineKey) ([]byte, error) {
	k, ok := key.(*rsaengine.Key)
	if !ok || !k.CanDecrypt() {
		return nil, fmt.Errorf("key handle holds no RSA private key")
	}
	class, err := sizeClass(k.Public().N.BitLen())
	if err != nil {
		return nil, err
	}
	der := x509.MarshalPKCS1PrivateKey(k.Private())
	defer securemem.Wipe(der)
	return seal(privateTagPrefix, class, der), nil
}

func (Codec) EncodePublic(key EngineKey) ([]byte, error) {
	k, ok := key.(*rsaengine.Key)
	if !ok || !k.CanEncrypt() {
		return nil, fmt.Errorf("key handle holds no RSA public key")
	}
	class, err := sizeClass(k.Public().N.BitLen())
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(k.Public())
	if err != nil {
		return nil, err
	}
	return seal(publicTagPrefix, class, der), nil
}

func (Codec) DecodePrivate(data []byte) (EngineKey, error) {
	payload, class, err := open(data, privateTagPrefix)
	if err != nil {
		return nil, err
	}
	priv, err := x509.ParsePKCS1PrivateKey(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed RSA private key payload: %v", err)
	}
	if err := checkClass(class, priv.N.BitLen()); err != nil {
		return nil, err
	}
	return rsaengine.NewPrivateKey(priv), nil
}

func (Codec) DecodePublic(data []byte) (EngineKey, error) {
	payload, class, err := open(data, publicTagPrefix)
	if err != nil {
		return nil, err
	}
	generic, err := x509.ParsePKIXPublicKey(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed RSA public key payload: %v", err)
	}
	pub, ok := generic.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("container payload is not an RSA public key")
	}
	if err := checkClass(class, pub.N.BitLen()); err != nil {
		return nil, err
	}
	return rsaengine.NewPublicKey(pub), nil
}

func checkClass(class byte, bits int) error {
	expected, err := sizeClass(bits)
	if err != nil {
		return err
	}
	if class != expected {
		return fmt.Errorf("container tag class %q does not match %v-bit key", class, bits)
	}
	return nil
}

func seal(prefix string, class byte, payload []byte) []byte {
	container := make([]byte, HeaderSize+len(payload))
	copy(container, prefix)
	container[tagSize-1] = class
	binary.BigEndian.PutUint32(container[4:8], uint32(len(container)))
	copy(container[HeaderSize:], payload)
	binary.BigEndian.PutUint32(container[8:HeaderSize], checksum(container))
	return container
}

func open(data []byte, prefix string) (payload []byte, class byte, err error) {
	if len(data) < HeaderSize {
		return nil, 0, fmt.Errorf("container shorter than header: %v bytes", len(data))
	}
	if string(data[:tagSize-1]) != prefix {
		return nil, 0, fmt.Errorf("unexpected container tag %q", data[:tagSize])
	}
	size := binary.BigEndian.Uint32(data[4:8])
	if size != uint32(len(data)) {
		return nil, 0, fmt.Errorf("container size field %v does not match %v bytes of data", size, len(data))
	}
	crc := binary.BigEndian.Uint32(data[8:HeaderSize])
	if crc != checksum(data) {
		return nil, 0, fmt.Errorf("container crc mismatch")
	}
	return data[HeaderSize:], data[tagSize-1], nil
}

// checksum computes the container crc with the crc field treated as zero.
func checksum(container []byte) uint32 {
	var zero [4]byte
	h := crc32.NewIEEE()
	h.Write(container[:8])
	h.Write(zero[:])
	h.Write(container[HeaderSize:])
	return h.Sum32()
}
