// Package keystore owns the ed25519 identity used to authenticate to the
// relay. It creates the key pair on first use, persists it with restrictive
// permissions, and reports its health.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"golang.org/x/crypto/ssh"

	"github.com/webquiz/quiztunnel/internal/domain"
)

// DefaultComment is appended to generated public keys.
const DefaultComment = "webquiz@tunnel"

const (
	privateKeyMode = 0o600
	publicKeyMode  = 0o644
	privateDirMode = 0o700
	publicDirMode  = 0o755
)

// Store reads and provisions key pairs on disk.
type Store struct {
	log     *slog.Logger
	rand    io.Reader
	comment string
}

// New creates a Store that logs through logger.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{log: logger, rand: rand.Reader, comment: DefaultComment}
}

// EnsureKeyPair returns the key pair stored at publicPath and privatePath,
// generating a fresh one when neither file exists. When exactly one file
// exists it fails with [domain.ErrPartialKeyPair] and writes nothing.
// Existing files are trusted as a pair and only parsed.
func (s *Store) EnsureKeyPair(publicPath, privatePath string) (domain.KeyPair, error) {
	if strings.TrimSpace(publicPath) == "" || strings.TrimSpace(privatePath) == "" {
		return domain.KeyPair{}, fmt.Errorf("key paths: %w", domain.ErrNotConfigured)
	}
	pubExists, err := fileExists(publicPath)
	if err != nil {
		return domain.KeyPair{}, &domain.KeyError{Path: publicPath, Err: domain.WithCause(domain.ErrKeyUnreadable, err)}
	}
	privExists, err := fileExists(privatePath)
	if err != nil {
		return domain.KeyPair{}, &domain.KeyError{Path: privatePath, Err: domain.WithCause(domain.ErrKeyUnreadable, err)}
	}

	switch {
	case pubExists && privExists:
		return s.load(publicPath, privatePath)
	case pubExists:
		return domain.KeyPair{}, &domain.KeyError{
			Path: privatePath,
			Err:  domain.WithCause(domain.ErrPartialKeyPair, errors.New("public key exists but private key is missing")),
		}
	case privExists:
		return domain.KeyPair{}, &domain.KeyError{
			Path: publicPath,
			Err:  domain.WithCause(domain.ErrPartialKeyPair, errors.New("private key exists but public key is missing")),
		}
	}
	return s.generate(publicPath, privatePath)
}

// Health reports the state of the key files without creating anything.
func (s *Store) Health(publicPath, privatePath string) domain.KeyHealth {
	if strings.TrimSpace(publicPath) == "" || strings.TrimSpace(privatePath) == "" {
		return domain.KeyHealth{Status: domain.KeyStatusNotConfigured, Error: "SSH key paths not configured"}
	}
	pubExists, pubErr := fileExists(publicPath)
	privExists, privErr := fileExists(privatePath)
	if err := errors.Join(pubErr, privErr); err != nil {
		return domain.KeyHealth{Status: domain.KeyStatusInvalid, Error: err.Error()}
	}
	switch {
	case !pubExists && !privExists:
		return domain.KeyHealth{Status: domain.KeyStatusMissing}
	case pubExists != privExists:
		missing := "private"
		if !pubExists {
			missing = "public"
		}
		return domain.KeyHealth{Status: domain.KeyStatusPartial, Error: missing + " key is missing"}
	}
	kp, err := s.load(publicPath, privatePath)
	if err != nil {
		return domain.KeyHealth{Status: domain.KeyStatusInvalid, Error: err.Error()}
	}
	return domain.KeyHealth{Status: domain.KeyStatusOK, PublicKey: strings.TrimSpace(string(kp.PublicKey))}
}

func (s *Store) load(publicPath, privatePath string) (domain.KeyPair, error) {
	pubRaw, err := os.ReadFile(publicPath)
	if err != nil {
		return domain.KeyPair{}, &domain.KeyError{Path: publicPath, Err: domain.WithCause(domain.ErrKeyUnreadable, err)}
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey(pubRaw); err != nil {
		return domain.KeyPair{}, &domain.KeyError{Path: publicPath, Err: domain.WithCause(domain.ErrKeyUnreadable, err)}
	}
	privRaw, err := os.ReadFile(privatePath)
	if err != nil {
		return domain.KeyPair{}, &domain.KeyError{Path: privatePath, Err: domain.WithCause(domain.ErrKeyUnreadable, err)}
	}
	signer, err := ssh.ParsePrivateKey(privRaw)
	if err != nil {
		return domain.KeyPair{}, &domain.KeyError{Path: privatePath, Err: domain.WithCause(domain.ErrKeyUnreadable, err)}
	}
	return domain.KeyPair{
		Algorithm:     signer.PublicKey().Type(),
		PrivateKeyPEM: privRaw,
		PublicKey:     pubRaw,
		Signer:        signer,
	}, nil
}

func (s *Store) generate(publicPath, privatePath string) (domain.KeyPair, error) {
	s.log.Info("generating new ed25519 SSH key pair", "public_key", publicPath, "private_key", privatePath)

	pub, priv, err := ed25519.GenerateKey(s.rand)
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("generate ed25519 key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, s.comment)
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("encode private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(block)

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("encode public key: %w", err)
	}
	pubLine := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if s.comment != "" {
		pubLine += " " + s.comment
	}
	pubBytes := []byte(pubLine + "\n")

	if err := os.MkdirAll(filepath.Dir(privatePath), privateDirMode); err != nil {
		return domain.KeyPair{}, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(publicPath), publicDirMode); err != nil {
		return domain.KeyPair{}, fmt.Errorf("create key directory: %w", err)
	}
	if err := writeFileAtomic(privatePath, privPEM, privateKeyMode); err != nil {
		return domain.KeyPair{}, fmt.Errorf("write private key: %w", err)
	}
	if err := writeFileAtomic(publicPath, pubBytes, publicKeyMode); err != nil {
		// A lone private key would read back as a partial pair forever.
		_ = os.Remove(privatePath)
		return domain.KeyPair{}, fmt.Errorf("write public key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("build signer: %w", err)
	}
	s.log.Info("SSH key pair generated", "fingerprint", ssh.FingerprintSHA256(sshPub))
	return domain.KeyPair{
		Algorithm:     domain.KeyAlgorithm,
		PrivateKeyPEM: privPEM,
		PublicKey:     pubBytes,
		Signer:        signer,
	}, nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return false, fmt.Errorf("%s is a directory", path)
		}
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// writeFileAtomic writes data to a temp file in the target directory, applies
// mode, and renames it over path.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".quiztunnel-key-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // clean up on failure

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return syncDir(dir)
}

func syncDir(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	dir, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = dir.Close() }()
	if err := dir.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		return err
	}
	return nil
}
