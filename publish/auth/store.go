package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// ConfigFileName is the token store file inside the work
// directory.
const ConfigFileName = "cli-config.json"

const tokenKey = "github"

// Token is a GitHub access token.
type Token struct {
	AccessToken string
	TokenType   string
	Scope       string
	CreatedAt   time.Time
}

// Store persists a single token.
type Store interface {
	// Load returns the stored token, or nil when none is
	// stored.
	Load() (*Token, error)
	Save(tok *Token) error
	Clear() error
}

// FileStore keeps the token under the "github" key of a
// JSON object on disk. Other top-level keys are left
// untouched.
type FileStore struct {
	Path string
}

// NewFileStore returns a store at <dir>/cli-config.json.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Path: filepath.Join(dir, ConfigFileName)}
}

type storedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	CreatedAt   int64  `json:"created_at"`
}

// Load implements Store.
func (s *FileStore) Load() (*Token, error) {
	const errCtx = "loading token"

	doc, err := s.read()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	raw, ok := doc[tokenKey]
	if !ok {
		return nil, nil
	}

	var st storedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if st.AccessToken == "" {
		return nil, nil
	}

	return &Token{
		AccessToken: st.AccessToken,
		TokenType:   st.TokenType,
		Scope:       st.Scope,
		CreatedAt:   time.UnixMilli(st.CreatedAt),
	}, nil
}

// Save implements Store.
func (s *FileStore) Save(tok *Token) error {
	const errCtx = "saving token"

	doc, err := s.read()
	if err != nil {
		slog.Warn(
			"discarding unreadable config",
			"path", s.Path,
			"err", err,
		)

		doc = map[string]json.RawMessage{}
	}

	raw, err := json.Marshal(storedToken{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Scope:       tok.Scope,
		CreatedAt:   tok.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	doc[tokenKey] = raw

	if err := s.write(doc); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Clear implements Store.
func (s *FileStore) Clear() error {
	const errCtx = "clearing token"

	doc, err := s.read()
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, ok := doc[tokenKey]; !ok {
		return nil
	}

	delete(doc, tokenKey)

	if err := s.write(doc); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	doc := map[string]json.RawMessage{}

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}

	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.Path, err)
	}

	if doc == nil {
		doc = map[string]json.RawMessage{}
	}

	return doc, nil
}

func (s *FileStore) write(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}

	if err := os.WriteFile(s.Path, append(data, '\n'), 0o600); err != nil {
		return err
	}

	return os.Chmod(s.Path, 0o600)
}
