package keyring

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"        //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"  //nolint:staticcheck
	"github.com/ProtonMail/go-crypto/openpgp/packet" //nolint:staticcheck
	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"github.com/ZebulonRouseFrantzich/valence/internal/release"
)

var releaseContent = []byte("PK\x03\x04 pretend this is a release archive")

func newEd25519(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newPGPEntity(t *testing.T) *openpgp.Entity {
	t.Helper()
	cfg := &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}
	entity, err := openpgp.NewEntity("Release Signer", "", "release@example.com", cfg)
	if err != nil {
		t.Fatalf("generate openpgp entity: %v", err)
	}
	return entity
}

func armoredPublicKey(t *testing.T, entity *openpgp.Entity) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor encode: %v", err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatalf("serialize entity: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor: %v", err)
	}
	return buf.String()
}

func TestVerifyNoKeysRegistered(t *testing.T) {
	pub, priv := newEd25519(t)
	sig, err := SignEd25519(priv, bytes.NewReader(releaseContent))
	if err != nil {
		t.Fatal(err)
	}
	id, err := KeyIDOf(pub)
	if err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(nil)
	if v.Verify(id.String(), sig, bytes.NewReader(releaseContent)) {
		t.Error("verify must fail when no keys are registered, even for a valid signature")
	}
}

func TestVerifyUnknownKeyIDGatesCrypto(t *testing.T) {
	pub, priv := newEd25519(t)
	other, _ := newEd25519(t)

	v := NewVerifier(nil)
	if _, err := v.AddPublicKey(pub); err != nil {
		t.Fatal(err)
	}

	sig, err := SignEd25519(priv, bytes.NewReader(releaseContent))
	if err != nil {
		t.Fatal(err)
	}

	// The registered key would accept this signature, but the metadata
	// names a different key.
	otherID, _ := KeyIDOf(other)
	if v.Verify(otherID.String(), sig, bytes.NewReader(releaseContent)) {
		t.Error("verify must fail when key id does not match a registered key")
	}
	if v.Verify("", sig, bytes.NewReader(releaseContent)) {
		t.Error("verify must fail for empty key id")
	}
}

func TestVerifyEd25519(t *testing.T) {
	pub, priv := newEd25519(t)
	v := NewVerifier(nil)
	id, err := v.AddPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}

	sig, err := SignEd25519(priv, bytes.NewReader(releaseContent))
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte(nil), releaseContent...)
	tampered[len(tampered)-1] ^= 0xff

	badSig := append([]byte(nil), sig...)
	badSig[0] ^= 0xff

	tests := []struct {
		name    string
		sig     []byte
		content []byte
		want    bool
	}{
		{name: "valid_signature", sig: sig, content: releaseContent, want: true},
		{name: "tampered_content", sig: sig, content: tampered, want: false},
		{name: "corrupted_signature", sig: badSig, content: releaseContent, want: false},
		{name: "short_signature", sig: sig[:10], content: releaseContent, want: false},
		{name: "empty_signature", sig: nil, content: releaseContent, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Verify(id.String(), tt.sig, bytes.NewReader(tt.content))
			if got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyPicksNamedKeyAmongMany(t *testing.T) {
	v := NewVerifier(nil)
	var signer ed25519.PrivateKey
	var signerID KeyID
	for i := 0; i < 5; i++ {
		pub, priv := newEd25519(t)
		id, err := v.AddPublicKey(pub)
		if err != nil {
			t.Fatal(err)
		}
		if i == 3 {
			signer, signerID = priv, id
		}
	}
	if v.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", v.Len())
	}

	sig, err := SignEd25519(signer, bytes.NewReader(releaseContent))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Verify(signerID.String(), sig, bytes.NewReader(releaseContent)) {
		t.Error("expected signature by the named key to verify")
	}
}

func TestVerifyDilithium3(t *testing.T) {
	pub, priv, err := mode3.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate dilithium3 key: %v", err)
	}

	text, err := FormatDilithium3(pub)
	if err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(nil)
	id, err := v.AddPublicKey(text)
	if err != nil {
		t.Fatalf("AddPublicKey: %v", err)
	}

	directID, err := KeyIDOf(pub)
	if err != nil {
		t.Fatal(err)
	}
	if id != directID {
		t.Errorf("text and object forms derive different ids: %s vs %s", id, directID)
	}

	sig, err := SignDilithium3(priv, bytes.NewReader(releaseContent))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Verify(id.String(), sig, bytes.NewReader(releaseContent)) {
		t.Error("expected dilithium3 signature to verify")
	}
	if v.Verify(id.String(), sig, bytes.NewReader([]byte("other content"))) {
		t.Error("dilithium3 signature over other content must not verify")
	}
}

func TestVerifyOpenPGP(t *testing.T) {
	entity := newPGPEntity(t)

	v := NewVerifier(nil)
	id, err := v.AddPublicKey(armoredPublicKey(t, entity))
	if err != nil {
		t.Fatalf("AddPublicKey(armored): %v", err)
	}

	objectID, err := KeyIDOf(entity)
	if err != nil {
		t.Fatal(err)
	}
	if id != objectID {
		t.Errorf("armored and entity forms derive different ids: %s vs %s", id, objectID)
	}

	sig, err := SignOpenPGP(entity, bytes.NewReader(releaseContent))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Verify(id.String(), sig, bytes.NewReader(releaseContent)) {
		t.Error("expected openpgp detached signature to verify")
	}
	if v.Verify(id.String(), sig, bytes.NewReader([]byte("tampered"))) {
		t.Error("openpgp signature over tampered content must not verify")
	}

	// A signature from a different entity must not verify under this id.
	stranger := newPGPEntity(t)
	strangerSig, err := SignOpenPGP(stranger, bytes.NewReader(releaseContent))
	if err != nil {
		t.Fatal(err)
	}
	if v.Verify(id.String(), strangerSig, bytes.NewReader(releaseContent)) {
		t.Error("signature by an untrusted entity must not verify")
	}
}

func TestAddPublicKeyFormats(t *testing.T) {
	pub, _ := newEd25519(t)
	wantID, err := KeyIDOf(pub)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		key  any
	}{
		{name: "ed25519_object", key: pub},
		{name: "raw_bytes", key: []byte(pub)},
		{name: "prefixed_text", key: FormatEd25519(pub)},
		{name: "prefixed_std_base64", key: "ed25519:" + base64.StdEncoding.EncodeToString(pub)},
		{name: "bare_base64url", key: base64.RawURLEncoding.EncodeToString(pub)},
		{name: "bare_hex", key: hex.EncodeToString(pub)},
		{name: "padded_text", key: "  " + FormatEd25519(pub) + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(nil)
			id, err := v.AddPublicKey(tt.key)
			if err != nil {
				t.Fatalf("AddPublicKey: %v", err)
			}
			if id != wantID {
				t.Errorf("id = %s, want %s", id, wantID)
			}
		})
	}
}

func TestAddPublicKeyRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  any
	}{
		{name: "nil", key: nil},
		{name: "integer", key: 42},
		{name: "empty_string", key: ""},
		{name: "garbage_text", key: "definitely not a key"},
		{name: "short_ed25519", key: ed25519.PublicKey(make([]byte, 16))},
		{name: "unknown_algorithm", key: "rsa:AAAA"},
		{name: "bad_dilithium", key: "dilithium3:AAAA"},
		{name: "bad_armor", key: "-----BEGIN PGP PUBLIC KEY BLOCK-----\n\ngarbage\n-----END PGP PUBLIC KEY BLOCK-----"},
		{name: "short_bytes", key: []byte{1, 2, 3}},
		{name: "typed_nil_ed25519", key: (*Ed25519Key)(nil)},
		{name: "typed_nil_dilithium", key: (*Dilithium3Key)(nil)},
		{name: "typed_nil_openpgp", key: (*OpenPGPKey)(nil)},
		{name: "zero_ed25519", key: &Ed25519Key{}},
		{name: "nil_dilithium_public_key", key: (*mode3.PublicKey)(nil)},
		{name: "nil_openpgp_entity", key: (*openpgp.Entity)(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(nil)
			_, err := v.AddPublicKey(tt.key)
			if !errors.Is(err, ErrInvalidKeyFormat) {
				t.Errorf("expected ErrInvalidKeyFormat, got %v", err)
			}
			if v.Len() != 0 {
				t.Error("invalid key must not be registered")
			}
		})
	}
}

func TestAddPublicKeyIdempotent(t *testing.T) {
	pub, _ := newEd25519(t)
	v := NewVerifier(nil)
	if _, err := v.AddPublicKey(pub); err != nil {
		t.Fatal(err)
	}
	if _, err := v.AddPublicKey(FormatEd25519(pub)); err != nil {
		t.Fatalf("re-adding same key: %v", err)
	}
	if v.Len() != 1 {
		t.Errorf("Len() = %d, want 1", v.Len())
	}
}

// collidingKey reports a fixed id with arbitrary material.
type collidingKey struct {
	id  KeyID
	raw []byte
}

func (c *collidingKey) Algorithm() string { return "test" }
func (c *collidingKey) ID() KeyID         { return c.id }
func (c *collidingKey) Canonical() []byte { return c.raw }
func (c *collidingKey) Verify(_ io.Reader, _ []byte) (bool, error) {
	return false, nil
}

func TestKeyIDCollision(t *testing.T) {
	pub, _ := newEd25519(t)
	v := NewVerifier(nil)
	id, err := v.AddPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}

	var k Key = &collidingKey{id: id, raw: []byte("different material")}
	if _, err := v.AddPublicKey(k); !errors.Is(err, ErrKeyIDCollision) {
		t.Errorf("expected ErrKeyIDCollision, got %v", err)
	}
}

func TestKeyIDShape(t *testing.T) {
	pub, _ := newEd25519(t)
	id, err := KeyIDOf(pub)
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != KeyIDLength {
		t.Errorf("len(id) = %d, want %d", len(id), KeyIDLength)
	}
	if strings.ContainsAny(id.String(), "=+/") {
		t.Errorf("id %q is not unpadded base64url", id)
	}

	again, _ := KeyIDOf(FormatEd25519(pub))
	if again != id {
		t.Error("key id is not deterministic")
	}
}

func TestVerifyArtifact(t *testing.T) {
	pub, priv := newEd25519(t)
	v := NewVerifier(nil)
	id, err := v.AddPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "valence-test.zip")
	if err := os.WriteFile(path, releaseContent, 0600); err != nil {
		t.Fatal(err)
	}
	sig, err := SignEd25519(priv, bytes.NewReader(releaseContent))
	if err != nil {
		t.Fatal(err)
	}

	good := &release.Artifact{LocalPath: path, Signature: sig, PublicKeyID: id.String()}
	if !v.VerifyArtifact(good) || !good.Verified() {
		t.Error("expected artifact to verify")
	}

	bad := &release.Artifact{LocalPath: path, Signature: sig[:5], PublicKeyID: id.String()}
	if v.VerifyArtifact(bad) || bad.Verified() {
		t.Error("expected artifact with bad signature to fail")
	}
	// Outcome is terminal.
	bad.Signature = sig
	if v.VerifyArtifact(bad) {
		t.Error("a settled artifact must not be re-verified")
	}

	missing := &release.Artifact{LocalPath: filepath.Join(t.TempDir(), "nope.zip"), Signature: sig, PublicKeyID: id.String()}
	if v.VerifyArtifact(missing) {
		t.Error("missing file must not verify")
	}

	if v.VerifyArtifact(nil) {
		t.Error("nil artifact must not verify")
	}
}

func TestDecodeSignature(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0x01, 0x02}
	for _, enc := range []string{
		EncodeSignature(raw),
		base64.StdEncoding.EncodeToString(raw),
		base64.URLEncoding.EncodeToString(raw),
	} {
		got, err := DecodeSignature(enc)
		if err != nil {
			t.Fatalf("DecodeSignature(%q): %v", enc, err)
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("DecodeSignature(%q) = %x, want %x", enc, got, raw)
		}
	}

	if _, err := DecodeSignature(""); err == nil {
		t.Error("expected error for empty signature")
	}

	armored := "-----BEGIN PGP SIGNATURE-----\n\nabc\n-----END PGP SIGNATURE-----"
	got, err := DecodeSignature(armored)
	if err != nil || string(got) != armored {
		t.Errorf("armored signature should pass through, got %q, %v", got, err)
	}
}
