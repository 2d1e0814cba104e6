package keyring

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/blake2b"
)

// Supported key algorithms.
const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"
	AlgOpenPGP    = "openpgp"
)

var (
	// ErrInvalidKeyFormat is returned for key material of no recognizable type.
	ErrInvalidKeyFormat = errors.New("invalid public key format")
	// ErrKeyIDCollision is returned when two different keys derive the same id.
	ErrKeyIDCollision = errors.New("public key id collision")
)

// KeyID identifies a public key: the unpadded base64url encoding of the
// BLAKE2b-256 digest of the key's canonical encoding. Always 43 characters.
type KeyID string

// KeyIDLength is the textual width of every KeyID.
const KeyIDLength = 43

// String returns the id text.
func (id KeyID) String() string {
	return string(id)
}

// Key is a trusted public key able to check a signature over streamed content.
type Key interface {
	// Algorithm names the signature scheme.
	Algorithm() string
	// ID returns the key's deterministic identifier.
	ID() KeyID
	// Canonical returns the bytes the id is derived from.
	Canonical() []byte
	// Verify reports whether sig is a valid signature over content.
	Verify(content io.Reader, sig []byte) (bool, error)
}

func deriveID(canonical []byte) KeyID {
	sum := blake2b.Sum256(canonical)
	return KeyID(base64.RawURLEncoding.EncodeToString(sum[:]))
}

func canonicalEncoding(alg string, material []byte) []byte {
	out := make([]byte, 0, len(alg)+1+len(material))
	out = append(out, alg...)
	out = append(out, ':')
	return append(out, material...)
}

// prehash computes the BLAKE2b-512 digest signed by the Ed25519 and
// Dilithium3 schemes.
func prehash(content io.Reader) ([]byte, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, content); err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return h.Sum(nil), nil
}

// Ed25519Key is an Ed25519 release-signing key.
type Ed25519Key struct {
	pub ed25519.PublicKey
	id  KeyID
}

// NewEd25519Key wraps an Ed25519 public key.
func NewEd25519Key(pub ed25519.PublicKey) (*Ed25519Key, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 key is %d bytes, want %d", ErrInvalidKeyFormat, len(pub), ed25519.PublicKeySize)
	}
	k := &Ed25519Key{pub: append(ed25519.PublicKey(nil), pub...)}
	k.id = deriveID(k.Canonical())
	return k, nil
}

func (k *Ed25519Key) Algorithm() string { return AlgEd25519 }
func (k *Ed25519Key) ID() KeyID {
	if k == nil {
		return ""
	}
	return k.id
}

func (k *Ed25519Key) Canonical() []byte {
	return canonicalEncoding(AlgEd25519, k.pub)
}

// Verify checks an Ed25519 signature over the BLAKE2b-512 digest of content.
func (k *Ed25519Key) Verify(content io.Reader, sig []byte) (bool, error) {
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	digest, err := prehash(content)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(k.pub, digest, sig), nil
}

// Dilithium3Key is a post-quantum Dilithium (mode 3) release-signing key.
type Dilithium3Key struct {
	pub *mode3.PublicKey
	raw []byte
	id  KeyID
}

// NewDilithium3Key wraps a Dilithium3 public key.
func NewDilithium3Key(pub *mode3.PublicKey) (*Dilithium3Key, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil dilithium3 key", ErrInvalidKeyFormat)
	}
	raw, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	k := &Dilithium3Key{pub: pub, raw: raw}
	k.id = deriveID(k.Canonical())
	return k, nil
}

func (k *Dilithium3Key) Algorithm() string { return AlgDilithium3 }
func (k *Dilithium3Key) ID() KeyID {
	if k == nil {
		return ""
	}
	return k.id
}

func (k *Dilithium3Key) Canonical() []byte {
	return canonicalEncoding(AlgDilithium3, k.raw)
}

// Verify checks a Dilithium3 signature over the BLAKE2b-512 digest of content.
func (k *Dilithium3Key) Verify(content io.Reader, sig []byte) (bool, error) {
	if len(sig) != mode3.SignatureSize {
		return false, nil
	}
	digest, err := prehash(content)
	if err != nil {
		return false, err
	}
	return mode3.Verify(k.pub, digest, sig), nil
}

// OpenPGPKey is an OpenPGP entity whose primary key signs releases with
// detached signatures.
type OpenPGPKey struct {
	entity *openpgp.Entity
	raw    []byte
	id     KeyID
}

// NewOpenPGPKey wraps an OpenPGP entity.
func NewOpenPGPKey(entity *openpgp.Entity) (*OpenPGPKey, error) {
	if entity == nil || entity.PrimaryKey == nil {
		return nil, fmt.Errorf("%w: openpgp entity has no primary key", ErrInvalidKeyFormat)
	}
	var buf bytes.Buffer
	if err := entity.PrimaryKey.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: serialize openpgp key: %v", ErrInvalidKeyFormat, err)
	}
	k := &OpenPGPKey{entity: entity, raw: buf.Bytes()}
	k.id = deriveID(k.Canonical())
	return k, nil
}

func (k *OpenPGPKey) Algorithm() string { return AlgOpenPGP }
func (k *OpenPGPKey) ID() KeyID {
	if k == nil {
		return ""
	}
	return k.id
}

func (k *OpenPGPKey) Canonical() []byte {
	return canonicalEncoding(AlgOpenPGP, k.raw)
}

// Verify checks a detached signature (armored or binary) made by this
// entity only.
func (k *OpenPGPKey) Verify(content io.Reader, sig []byte) (bool, error) {
	ring := openpgp.EntityList{k.entity}

	var err error
	if bytes.HasPrefix(bytes.TrimSpace(sig), []byte("-----BEGIN PGP SIGNATURE-----")) {
		_, err = openpgp.CheckArmoredDetachedSignature(ring, content, bytes.NewReader(sig), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(ring, content, bytes.NewReader(sig), nil)
	}
	return err == nil, nil
}

// ParseKey turns public key material into a Key. Accepted forms:
//   - ed25519.PublicKey, *mode3.PublicKey, *openpgp.Entity, Key
//   - "ed25519:<base64>" and "dilithium3:<base64>" text
//   - an armored or binary OpenPGP public key block holding one entity
//   - a bare Ed25519 key as 32 raw bytes, base64 or hex text
func ParseKey(key any) (Key, error) {
	switch v := key.(type) {
	case Key:
		// A typed nil or zero-value key has no id.
		if v == nil || v.ID() == "" {
			return nil, fmt.Errorf("%w: key %T has no id", ErrInvalidKeyFormat, key)
		}
		return v, nil
	case ed25519.PublicKey:
		return NewEd25519Key(v)
	case *mode3.PublicKey:
		return NewDilithium3Key(v)
	case *openpgp.Entity:
		return NewOpenPGPKey(v)
	case string:
		return parseText(v)
	case []byte:
		return parseBytes(v)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidKeyFormat, key)
	}
}

func parseBytes(b []byte) (Key, error) {
	if len(b) == ed25519.PublicKeySize {
		return NewEd25519Key(ed25519.PublicKey(b))
	}
	if looksArmored(string(b)) {
		return parseText(string(b))
	}
	if ring, err := openpgp.ReadKeyRing(bytes.NewReader(b)); err == nil {
		return singleEntity(ring)
	}
	return parseText(string(b))
}

func parseText(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKeyFormat)
	}

	if looksArmored(s) {
		ring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(s))
		if err != nil {
			return nil, fmt.Errorf("%w: read openpgp key: %v", ErrInvalidKeyFormat, err)
		}
		return singleEntity(ring)
	}

	if alg, enc, ok := strings.Cut(s, ":"); ok {
		raw, err := decodeBase64(enc)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64: %v", ErrInvalidKeyFormat, err)
		}
		switch alg {
		case AlgEd25519:
			return NewEd25519Key(ed25519.PublicKey(raw))
		case AlgDilithium3:
			var pk mode3.PublicKey
			if err := pk.UnmarshalBinary(raw); err != nil {
				return nil, fmt.Errorf("%w: invalid dilithium3 key: %v", ErrInvalidKeyFormat, err)
			}
			return NewDilithium3Key(&pk)
		default:
			return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidKeyFormat, alg)
		}
	}

	if len(s) == hex.EncodedLen(ed25519.PublicKeySize) {
		if raw, err := hex.DecodeString(s); err == nil {
			return NewEd25519Key(ed25519.PublicKey(raw))
		}
	}
	if raw, err := decodeBase64(s); err == nil && len(raw) == ed25519.PublicKeySize {
		return NewEd25519Key(ed25519.PublicKey(raw))
	}

	return nil, ErrInvalidKeyFormat
}

func singleEntity(ring openpgp.EntityList) (Key, error) {
	if len(ring) != 1 {
		return nil, fmt.Errorf("%w: expected one openpgp key, found %d", ErrInvalidKeyFormat, len(ring))
	}
	return NewOpenPGPKey(ring[0])
}

func looksArmored(s string) bool {
	return strings.Contains(s, "-----BEGIN PGP PUBLIC KEY BLOCK-----")
}

// decodeBase64 accepts url-safe and standard alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// DecodeSignature decodes signature text as delivered in headers
// (base64, either alphabet). Armored OpenPGP signatures pass through.
func DecodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-----BEGIN PGP SIGNATURE-----") {
		return []byte(s), nil
	}
	if s == "" {
		return nil, errors.New("empty signature")
	}
	return decodeBase64(s)
}

// EncodeSignature encodes a signature for transport in a header.
func EncodeSignature(sig []byte) string {
	return base64.RawURLEncoding.EncodeToString(sig)
}

// FormatEd25519 renders an Ed25519 public key in the "ed25519:<base64url>"
// form accepted by ParseKey.
func FormatEd25519(pub ed25519.PublicKey) string {
	return AlgEd25519 + ":" + base64.RawURLEncoding.EncodeToString(pub)
}

// FormatDilithium3 renders a Dilithium3 public key in the
// "dilithium3:<base64url>" form accepted by ParseKey.
func FormatDilithium3(pub *mode3.PublicKey) (string, error) {
	raw, err := pub.MarshalBinary()
	if err != nil {
		return "", err
	}
	return AlgDilithium3 + ":" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// KeyIDOf parses key and returns its id.
func KeyIDOf(key any) (KeyID, error) {
	k, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	return k.ID(), nil
}
