package ledger_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/valence/internal/ledger"
	"github.com/ZebulonRouseFrantzich/valence/internal/testutil"
)

func newClient(t *testing.T, c *testutil.Chronicle) *ledger.Chronicle {
	t.Helper()
	client, err := ledger.NewChronicle(c.URL(), c.PublicKey)
	if err != nil {
		t.Fatalf("NewChronicle() error = %v", err)
	}
	return client
}

func TestNewChronicle_PublicKeyForms(t *testing.T) {
	c := testutil.NewChronicle(t)

	tests := []struct {
		name    string
		key     any
		wantErr bool
	}{
		{"raw key", c.PublicKey, false},
		{"bytes", []byte(c.PublicKey), false},
		{"base64url", c.PublicKeyText(), false},
		{"prefixed", "ed25519:" + c.PublicKeyText(), false},
		{"short", []byte{1, 2, 3}, true},
		{"garbage text", "not a key", true},
		{"wrong type", 42, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.NewChronicle(c.URL(), tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewChronicle() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ledger.ErrInvalidPublicKey) {
				t.Errorf("error = %v, want ErrInvalidPublicKey", err)
			}
		})
	}
}

func TestNewChronicle_EmptyURL(t *testing.T) {
	c := testutil.NewChronicle(t)
	if _, err := ledger.NewChronicle("", c.PublicKey); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestChronicle_LatestHash(t *testing.T) {
	c := testutil.NewChronicle(t, "aaa", "bbb")
	client := newClient(t, c)

	got, err := client.LatestHash(context.Background())
	if err != nil {
		t.Fatalf("LatestHash() error = %v", err)
	}
	if got != "bbb" {
		t.Errorf("LatestHash() = %q, want bbb", got)
	}
}

func TestChronicle_LatestHashEmptyLedger(t *testing.T) {
	client := newClient(t, testutil.NewChronicle(t))
	if _, err := client.LatestHash(context.Background()); err == nil {
		t.Fatal("expected error for empty ledger head")
	}
}

func TestChronicle_Lookup(t *testing.T) {
	c := testutil.NewChronicle(t, "known")
	client := newClient(t, c)
	ctx := context.Background()

	records, err := client.Lookup(ctx, "known")
	if err != nil {
		t.Fatalf("Lookup(known) error = %v", err)
	}
	if !strings.Contains(string(records), "known") {
		t.Errorf("Lookup(known) = %s", records)
	}

	if _, err := client.Lookup(ctx, "unknown"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Lookup(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := client.Lookup(ctx, ""); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Lookup(\"\") error = %v, want ErrNotFound", err)
	}
	if c.Lookups() != 2 {
		t.Errorf("server saw %d lookups, want 2", c.Lookups())
	}
}

func TestChronicle_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *testutil.Chronicle)
		wantErr error
	}{
		{
			name:    "bad signature",
			setup:   func(c *testutil.Chronicle) { c.SetBadSignature(true) },
			wantErr: ledger.ErrBadSignature,
		},
		{
			name:    "error status",
			setup:   func(c *testutil.Chronicle) { c.SetError("maintenance") },
			wantErr: ledger.ErrStatus,
		},
		{
			name:  "unavailable",
			setup: func(c *testutil.Chronicle) { c.SetDown(true) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testutil.NewChronicle(t, "known")
			tt.setup(c)
			client := newClient(t, c)

			_, err := client.Lookup(context.Background(), "known")
			if err == nil {
				t.Fatal("Lookup() succeeded, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Lookup() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestChronicle_WrongKeyRejected(t *testing.T) {
	c := testutil.NewChronicle(t, "known")
	other := testutil.NewChronicle(t)

	client, err := ledger.NewChronicle(c.URL(), other.PublicKey)
	if err != nil {
		t.Fatalf("NewChronicle() error = %v", err)
	}
	if _, err := client.Lookup(context.Background(), "known"); !errors.Is(err, ledger.ErrBadSignature) {
		t.Errorf("Lookup() error = %v, want ErrBadSignature", err)
	}
}

func TestChronicle_Since(t *testing.T) {
	c := testutil.NewChronicle(t, "h1", "h2", "h3")
	client := newClient(t, c)
	ctx := context.Background()

	all, err := client.Since(ctx, "")
	if err != nil {
		t.Fatalf("Since(\"\") error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("export returned %d records, want 3", len(all))
	}

	after, err := client.Since(ctx, "h1")
	if err != nil {
		t.Fatalf("Since(h1) error = %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("Since(h1) returned %d records, want 2", len(after))
	}
	if !strings.Contains(string(after[0]), "h2") {
		t.Errorf("first record = %s, want h2", after[0])
	}

	none, err := client.Since(ctx, "h3")
	if err != nil {
		t.Fatalf("Since(h3) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Since(head) returned %d records", len(none))
	}
}

func TestChronicle_ContextCanceled(t *testing.T) {
	client := newClient(t, testutil.NewChronicle(t, "known"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Lookup(ctx, "known"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
