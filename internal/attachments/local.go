package attachments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local keeps attachments under a directory and serves them through the
// HTTP API with signed tokens.
type Local struct {
	root    string
	baseURL string
	signer  *Signer
}

// NewLocal creates a local store rooted at root. baseURL is the public
// origin of the HTTP API.
func NewLocal(root, baseURL string, signer *Signer) (*Local, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	return &Local{root: root, baseURL: strings.TrimSuffix(baseURL, "/"), signer: signer}, nil
}

// Name implements Store.
func (l *Local) Name() string { return "local" }

func (l *Local) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}

// Put implements Store. The object appears atomically.
func (l *Local) Put(_ context.Context, key string, r io.Reader, _ string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Open implements Store.
func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Delete implements Store.
func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// URL implements Store.
func (l *Local) URL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	token, err := l.signer.Sign(key, ttl)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/api/files/%s?token=%s", l.baseURL, key, url.QueryEscape(token)), nil
}

// Verify checks a token issued by URL for key.
func (l *Local) Verify(key, token string) error {
	granted, err := l.signer.Verify(token)
	if err != nil {
		return err
	}
	if granted != key {
		return fmt.Errorf("attachment token is for a different object")
	}
	return nil
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
