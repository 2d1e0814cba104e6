package keyring

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// SignEd25519 signs the BLAKE2b-512 digest of content. This is the
// publisher-side counterpart of Ed25519Key.Verify.
func SignEd25519(priv ed25519.PrivateKey, content io.Reader) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key is %d bytes, want %d", len(priv), ed25519.PrivateKeySize)
	}
	digest, err := prehash(content)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, digest), nil
}

// SignDilithium3 signs the BLAKE2b-512 digest of content.
func SignDilithium3(priv *mode3.PrivateKey, content io.Reader) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("nil dilithium3 private key")
	}
	digest, err := prehash(content)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(priv, digest, sig)
	return sig, nil
}

// SignOpenPGP produces a binary detached signature over content.
func SignOpenPGP(signer *openpgp.Entity, content io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if err := openpgp.DetachSign(&buf, signer, content, nil); err != nil {
		return nil, fmt.Errorf("detach sign: %w", err)
	}
	return buf.Bytes(), nil
}
