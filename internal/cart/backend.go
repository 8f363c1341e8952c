package cart

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Backend is the durable key/value layer under the cart store. Load returns
// (nil, nil) when the key has never been written. Keys are opaque slugs
// controlled by the store, including backup keys for corrupt snapshots.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
}

type backendCloser interface {
	Close() error
}

// CloseBackend closes the backend when it holds resources worth closing.
func CloseBackend(backend Backend) error {
	if closer, ok := backend.(backendCloser); ok {
		return closer.Close()
	}
	return nil
}

type JSONFileBackend struct {
	Dir string
}

func NewJSONFileBackend(dir string) *JSONFileBackend {
	return &JSONFileBackend{Dir: strings.TrimSpace(dir)}
}

func (b *JSONFileBackend) pathFor(key string) string {
	return filepath.Join(b.Dir, key+".json")
}

func (b *JSONFileBackend) Load(_ context.Context, key string) ([]byte, error) {
	if b == nil || strings.TrimSpace(b.Dir) == "" || strings.TrimSpace(key) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (b *JSONFileBackend) Save(_ context.Context, key string, blob []byte) error {
	if b == nil || strings.TrimSpace(b.Dir) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return err
	}
	path := b.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

type InMemoryBackend struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{blobs: make(map[string][]byte)}
}

func (b *InMemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[key]
	if !ok {
		return nil, nil
	}
	clone := make([]byte, len(blob))
	copy(clone, blob)
	return clone, nil
}

func (b *InMemoryBackend) Save(_ context.Context, key string, blob []byte) error {
	if b == nil || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	clone := make([]byte, len(blob))
	copy(clone, blob)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = clone
	return nil
}

// Keys lists the stored keys, sorted insertion-independent. Test helper.
func (b *InMemoryBackend) Keys() []string {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.blobs))
	for key := range b.blobs {
		keys = append(keys, key)
	}
	return keys
}

// BuildBackendFromDSN selects a cart backend by DSN scheme: file://<dir>,
// memory://, or postgres://. A bare path counts as a file DSN.
func BuildBackendFromDSN(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		dir, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileBackend(dir), nil
	case "memory", "mem", "inmem":
		return NewInMemoryBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresBackend(dsn)
	default:
		return nil, fmt.Errorf("unsupported cart backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
