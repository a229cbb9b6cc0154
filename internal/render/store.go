package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the object-storage collaborator. The core never builds storage
// paths itself; it only round-trips the URLs a Store hands back.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// LocalStore keeps artifacts under a workspace directory and serves them as
// /files/ URLs relative to a public base.
type LocalStore struct {
	Dir     string
	BaseURL string
}

const filesPrefix = "/files/"

func NewLocalStore(workspace, baseURL string) (LocalStore, error) {
	dir := filepath.Join(workspace, ".inktrail", "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return LocalStore{}, err
	}
	return LocalStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s LocalStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	name = filepath.Base(name)
	if err := os.WriteFile(filepath.Join(s.Dir, name), data, 0o644); err != nil {
		return "", err
	}
	return s.BaseURL + filesPrefix + name, nil
}

func (s LocalStore) Get(ctx context.Context, url string) ([]byte, error) {
	idx := strings.Index(url, filesPrefix)
	if idx < 0 {
		return nil, fmt.Errorf("store: foreign url %q", url)
	}
	name := filepath.Base(url[idx+len(filesPrefix):])
	return os.ReadFile(filepath.Join(s.Dir, name))
}
