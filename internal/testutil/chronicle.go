package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Chronicle is a fake transparency ledger that signs its responses.
type Chronicle struct {
	Server     *httptest.Server
	PublicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey

	mu       sync.Mutex
	records  map[string]bool
	order    []string
	lookups  int
	badSig   bool
	down     bool
	errorMsg string
}

// NewChronicle starts a fake ledger holding the given summary hashes.
func NewChronicle(t *testing.T, hashes ...string) *Chronicle {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate ledger key: %v", err)
	}

	c := &Chronicle{
		PublicKey:  pub,
		privateKey: priv,
		records:    make(map[string]bool),
	}
	for _, h := range hashes {
		c.Record(h)
	}
	c.Server = httptest.NewServer(http.HandlerFunc(c.handle))
	t.Cleanup(c.Server.Close)
	return c
}

// URL returns the ledger base URL.
func (c *Chronicle) URL() string {
	return c.Server.URL
}

// Record appends a summary hash to the ledger.
func (c *Chronicle) Record(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.records[hash] {
		c.records[hash] = true
		c.order = append(c.order, hash)
	}
}

// Lookups returns how many lookup requests were served.
func (c *Chronicle) Lookups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups
}

// SetBadSignature makes every response carry an invalid signature.
func (c *Chronicle) SetBadSignature(bad bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.badSig = bad
}

// SetDown makes every request fail with 503.
func (c *Chronicle) SetDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// SetError makes every response carry status ERROR with msg.
func (c *Chronicle) SetError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorMsg = msg
}

// PublicKeyText returns the ledger key as unpadded base64url.
func (c *Chronicle) PublicKeyText() string {
	return base64.RawURLEncoding.EncodeToString(c.PublicKey)
}

func (c *Chronicle) handle(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var results any
	status := "OK"
	switch {
	case r.URL.Path == "/lasthash":
		head := ""
		if len(c.order) > 0 {
			head = c.order[len(c.order)-1]
		}
		results = map[string]string{"summary-hash": head}
	case strings.HasPrefix(r.URL.Path, "/lookup/"):
		c.lookups++
		hash := strings.TrimPrefix(r.URL.Path, "/lookup/")
		if c.records[hash] {
			results = []map[string]string{{"summary": hash, "summaryhash": hash}}
		} else {
			results = []map[string]string{}
		}
	case strings.HasPrefix(r.URL.Path, "/since/"):
		hash := strings.TrimPrefix(r.URL.Path, "/since/")
		var after []map[string]string
		seen := false
		for _, h := range c.order {
			if seen {
				after = append(after, map[string]string{"summaryhash": h})
			}
			if h == hash {
				seen = true
			}
		}
		results = after
	case r.URL.Path == "/export":
		var all []map[string]string
		for _, h := range c.order {
			all = append(all, map[string]string{"summaryhash": h})
		}
		results = all
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	envelope := map[string]any{
		"version":  "1.2.x",
		"datetime": "2026-10-18T00:00:00+00:00",
		"status":   status,
		"results":  results,
	}
	if c.errorMsg != "" {
		envelope["status"] = "ERROR"
		envelope["message"] = c.errorMsg
		delete(envelope, "results")
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	sig := ed25519.Sign(c.privateKey, body)
	if c.badSig {
		sig[0] ^= 0xff
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Body-Signature-Ed25519", base64.URLEncoding.EncodeToString(sig))
	_, _ = w.Write(body)
}
