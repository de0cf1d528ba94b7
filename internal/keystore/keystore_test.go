package keystore

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/webquiz/quiztunnel/internal/domain"
)

func newTestStore() *Store {
	return New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
}

func keyPaths(t *testing.T) (string, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "keys")
	return filepath.Join(dir, "id_ed25519.pub"), filepath.Join(dir, "id_ed25519")
}

func TestEnsureKeyPairGeneratesWhenMissing(t *testing.T) {
	t.Parallel()

	pubPath, privPath := keyPaths(t)
	kp, err := newTestStore().EnsureKeyPair(pubPath, privPath)
	if err != nil {
		t.Fatalf("EnsureKeyPair: %v", err)
	}
	if kp.Algorithm != ssh.KeyAlgoED25519 {
		t.Fatalf("expected %s key, got %q", ssh.KeyAlgoED25519, kp.Algorithm)
	}
	if kp.Signer == nil {
		t.Fatal("expected signer for generated key")
	}

	pubRaw, err := os.ReadFile(pubPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pubRaw, kp.PublicKey) {
		t.Fatal("expected returned public key to match file contents")
	}
	if strings.Count(string(pubRaw), "\n") != 1 || !strings.HasSuffix(string(pubRaw), " "+DefaultComment+"\n") {
		t.Fatalf("expected single authorized_keys line with comment, got %q", pubRaw)
	}
	parsed, _, _, _, err := ssh.ParseAuthorizedKey(pubRaw)
	if err != nil {
		t.Fatalf("expected authorized_keys format: %v", err)
	}
	if !bytes.Equal(parsed.Marshal(), kp.Signer.PublicKey().Marshal()) {
		t.Fatal("expected public key file to match generated private key")
	}

	privRaw, err := os.ReadFile(privPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(privRaw), "BEGIN OPENSSH PRIVATE KEY") {
		t.Fatal("expected OpenSSH private key container")
	}
	if _, err := ssh.ParsePrivateKey(privRaw); err != nil {
		t.Fatalf("expected private key to parse without passphrase: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(privPath)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Fatalf("expected private key mode 0600, got %o", perm)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(privPath))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected exactly two key files, got %d", len(entries))
	}
}

func TestEnsureKeyPairReturnsExistingUnchanged(t *testing.T) {
	t.Parallel()

	pubPath, privPath := keyPaths(t)
	s := newTestStore()
	first, err := s.EnsureKeyPair(pubPath, privPath)
	if err != nil {
		t.Fatal(err)
	}
	before, err := os.Stat(privPath)
	if err != nil {
		t.Fatal(err)
	}

	second, err := s.EnsureKeyPair(pubPath, privPath)
	if err != nil {
		t.Fatalf("EnsureKeyPair on existing files: %v", err)
	}
	if !bytes.Equal(first.PublicKey, second.PublicKey) || !bytes.Equal(first.PrivateKeyPEM, second.PrivateKeyPEM) {
		t.Fatal("expected existing key pair to be returned unchanged")
	}
	after, err := os.Stat(privPath)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatal("expected private key file not to be rewritten")
	}
}

func TestEnsureKeyPairDoesNotVerifyPairMatch(t *testing.T) {
	t.Parallel()

	pubA, privA := keyPaths(t)
	pubB, privB := keyPaths(t)
	s := newTestStore()
	if _, err := s.EnsureKeyPair(pubA, privA); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EnsureKeyPair(pubB, privB); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EnsureKeyPair(pubA, privB); err != nil {
		t.Fatalf("expected mismatched but parseable files to load, got %v", err)
	}
}

func TestEnsureKeyPairPartial(t *testing.T) {
	t.Parallel()

	for _, keep := range []string{"public", "private"} {
		t.Run(keep, func(t *testing.T) {
			t.Parallel()
			pubPath, privPath := keyPaths(t)
			if err := os.MkdirAll(filepath.Dir(pubPath), 0o700); err != nil {
				t.Fatal(err)
			}
			present := pubPath
			missing := privPath
			if keep == "private" {
				present, missing = privPath, pubPath
			}
			if err := os.WriteFile(present, []byte("placeholder\n"), 0o600); err != nil {
				t.Fatal(err)
			}

			_, err := newTestStore().EnsureKeyPair(pubPath, privPath)
			if !errors.Is(err, domain.ErrPartialKeyPair) {
				t.Fatalf("expected ErrPartialKeyPair, got %v", err)
			}
			var ke *domain.KeyError
			if !errors.As(err, &ke) || ke.Path != missing {
				t.Fatalf("expected KeyError naming %s, got %v", missing, err)
			}
			if _, statErr := os.Stat(missing); !os.IsNotExist(statErr) {
				t.Fatalf("expected %s to remain absent", missing)
			}
			got, err := os.ReadFile(present)
			if err != nil || string(got) != "placeholder\n" {
				t.Fatalf("expected %s to stay untouched, got %q (%v)", present, got, err)
			}
			entries, err := os.ReadDir(filepath.Dir(present))
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 1 {
				t.Fatalf("expected no filesystem writes, found %d entries", len(entries))
			}
		})
	}
}

func TestEnsureKeyPairUnreadable(t *testing.T) {
	t.Parallel()

	pubPath, privPath := keyPaths(t)
	if err := os.MkdirAll(filepath.Dir(pubPath), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pubPath, []byte("not a key\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(privPath, []byte("not a key either\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := newTestStore().EnsureKeyPair(pubPath, privPath)
	if !errors.Is(err, domain.ErrKeyUnreadable) {
		t.Fatalf("expected ErrKeyUnreadable, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Fatal("expected unreadable keys to stay retryable")
	}
}

func TestEnsureKeyPairRequiresPaths(t *testing.T) {
	t.Parallel()

	if _, err := newTestStore().EnsureKeyPair("", "/tmp/x"); !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	pubPath, privPath := keyPaths(t)

	if h := s.Health("", ""); h.Status != domain.KeyStatusNotConfigured {
		t.Fatalf("expected not_configured, got %q", h.Status)
	}
	if h := s.Health(pubPath, privPath); h.Status != domain.KeyStatusMissing {
		t.Fatalf("expected missing, got %q", h.Status)
	}
	if _, err := os.Stat(pubPath); !os.IsNotExist(err) {
		t.Fatal("expected Health not to generate keys")
	}

	kp, err := s.EnsureKeyPair(pubPath, privPath)
	if err != nil {
		t.Fatal(err)
	}
	h := s.Health(pubPath, privPath)
	if h.Status != domain.KeyStatusOK {
		t.Fatalf("expected ok, got %q (%s)", h.Status, h.Error)
	}
	if h.PublicKey != strings.TrimSpace(string(kp.PublicKey)) {
		t.Fatalf("expected public key content in health, got %q", h.PublicKey)
	}

	if err := os.Remove(privPath); err != nil {
		t.Fatal(err)
	}
	if h := s.Health(pubPath, privPath); h.Status != domain.KeyStatusPartial {
		t.Fatalf("expected partial, got %q", h.Status)
	}
}
