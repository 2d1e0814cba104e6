package keyring

import (
	"crypto/subtle"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ZebulonRouseFrantzich/valence/internal/logging"
	"github.com/ZebulonRouseFrantzich/valence/internal/release"
)

// Verifier holds the trusted release-signing keys and checks signatures
// against the one key a release names.
type Verifier struct {
	mu     sync.RWMutex
	keys   []Key
	logger logging.Logger
}

// NewVerifier creates a verifier with no trusted keys.
func NewVerifier(logger logging.Logger) *Verifier {
	return &Verifier{logger: logging.OrNop(logger)}
}

// AddPublicKey registers a trusted key. See ParseKey for accepted forms.
// Adding a key that is already registered is a no-op.
func (v *Verifier) AddPublicKey(key any) (KeyID, error) {
	k, err := ParseKey(key)
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, existing := range v.keys {
		if existing.ID() != k.ID() {
			continue
		}
		if subtle.ConstantTimeCompare(existing.Canonical(), k.Canonical()) != 1 {
			return "", fmt.Errorf("%w: %s", ErrKeyIDCollision, k.ID())
		}
		return k.ID(), nil
	}

	v.keys = append(v.keys, k)
	v.logger.Debug("trusted public key added", "key_id", k.ID(), "alg", k.Algorithm())
	return k.ID(), nil
}

// Len returns the number of trusted keys.
func (v *Verifier) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}

// Lookup finds the key with the given id. Ids are compared in constant time.
func (v *Verifier) Lookup(publicKeyID string) (Key, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	want := []byte(publicKeyID)
	var match Key
	for _, k := range v.keys {
		if subtle.ConstantTimeCompare(want, []byte(k.ID())) == 1 {
			match = k
		}
	}
	return match, match != nil
}

// Verify reports whether sig is a valid signature over content made by the
// key identified by publicKeyID. An unknown id is a negative result, never
// an error, and no other key is tried.
func (v *Verifier) Verify(publicKeyID string, sig []byte, content io.Reader) bool {
	if v.Len() == 0 {
		return false
	}

	key, ok := v.Lookup(publicKeyID)
	if !ok {
		v.logger.Warn("signature references unknown public key", "key_id", publicKeyID)
		return false
	}

	valid, err := key.Verify(content, sig)
	if err != nil {
		v.logger.Warn("signature verification failed", "key_id", publicKeyID, "err", err)
		return false
	}
	return valid
}

// VerifyFile verifies the file at path.
func (v *Verifier) VerifyFile(publicKeyID string, sig []byte, path string) bool {
	if v.Len() == 0 {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		v.logger.Warn("open file for verification", "path", path, "err", err)
		return false
	}
	defer f.Close()

	return v.Verify(publicKeyID, sig, f)
}

// VerifyArtifact verifies a downloaded artifact and records the outcome on
// it. An artifact that already carries an outcome is not re-verified.
func (v *Verifier) VerifyArtifact(a *release.Artifact) bool {
	if a == nil {
		return false
	}
	if a.Settled() {
		return a.Verified()
	}
	return a.SetVerified(v.VerifyFile(a.PublicKeyID, a.Signature, a.LocalPath))
}
