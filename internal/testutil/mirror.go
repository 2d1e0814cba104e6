package testutil

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/valence/internal/keyring"
)

// MirrorRelease is a release served by a fake mirror.
type MirrorRelease struct {
	Version     string
	Channel     string
	Path        string
	Body        []byte
	Signature   []byte
	PublicKeyID string
	SummaryHash string
	Created     time.Time
}

// SignRelease fills in the signature and key id of r using priv.
func SignRelease(t *testing.T, priv ed25519.PrivateKey, r MirrorRelease) MirrorRelease {
	t.Helper()

	sig, err := keyring.SignEd25519(priv, bytes.NewReader(r.Body))
	if err != nil {
		t.Fatalf("failed to sign release: %v", err)
	}
	id, err := keyring.KeyIDOf(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("failed to derive key id: %v", err)
	}
	r.Signature = sig
	r.PublicKeyID = id.String()
	return r
}

// Mirror is a fake update mirror for one project.
type Mirror struct {
	Server  *httptest.Server
	Project string
	// Token, when set, must arrive in the Valence-Access header.
	Token string

	mu          sync.Mutex
	releases    []MirrorRelease
	malformed   bool
	listHits    int
	downloads   int
	lastHeaders http.Header
}

// NewMirror starts a fake mirror serving releases in the given order.
func NewMirror(t *testing.T, project string, releases ...MirrorRelease) *Mirror {
	t.Helper()

	m := &Mirror{Project: project, releases: releases}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Server.Close)
	return m
}

// URL returns the mirror base URL.
func (m *Mirror) URL() string {
	return m.Server.URL
}

// SetMalformed makes the update list omit the updates field.
func (m *Mirror) SetMalformed(malformed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformed = malformed
}

// ListHits returns how many update-list requests were served.
func (m *Mirror) ListHits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listHits
}

// Downloads returns how many artifact downloads were served.
func (m *Mirror) Downloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloads
}

// LastHeaders returns the headers of the most recent request.
func (m *Mirror) LastHeaders() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeaders.Clone()
}

func (m *Mirror) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastHeaders = r.Header.Clone()
	if m.Token != "" && r.Header.Get("Valence-Access") != m.Token {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	prefix := "/updates/" + m.Project
	if r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix+"/") {
		m.listHits++
		channel := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")
		m.serveList(w, channel)
		return
	}

	for _, rel := range m.releases {
		if rel.Path == r.URL.Path {
			m.downloads++
			w.Header().Set("Valence-Signature", keyring.EncodeSignature(rel.Signature))
			w.Header().Set("Valence-Public-Key-Id", rel.PublicKeyID)
			if rel.SummaryHash != "" {
				w.Header().Set("Chronicle-Summary-Hash", rel.SummaryHash)
			}
			w.Header().Set("Content-Type", "application/zip")
			_, _ = w.Write(rel.Body)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (m *Mirror) serveList(w http.ResponseWriter, channel string) {
	w.Header().Set("Content-Type", "application/json")
	if m.malformed {
		_ = json.NewEncoder(w).Encode(map[string]string{"info": "project not found"})
		return
	}

	updates := []map[string]any{}
	for _, rel := range m.releases {
		if channel != "" && rel.Channel != "" && rel.Channel != channel {
			continue
		}
		created := rel.Created
		if created.IsZero() {
			created = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
		}
		updates = append(updates, map[string]any{
			"url":     rel.Path,
			"version": rel.Version,
			"created": created.Format(time.RFC3339),
			"channel": rel.Channel,
			"project": m.Project,
		})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"updates": updates})
}
