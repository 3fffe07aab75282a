package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Backend é a superfície chave-valor durável (equivalente ao localStorage).
// GetItem retorna ok=false quando a chave não existe.
type Backend interface {
	GetItem(key string) ([]byte, bool, error)
	SetItem(key string, value []byte) error
	RemoveItem(key string) error
}

var storageKeyRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidateKey rejeita chaves que não podem virar nome de arquivo/entrada com segurança
func ValidateKey(key string) error {
	if !storageKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}

// === Memory ===

// MemoryBackend mantém os itens em memória (testes e fallback)
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string][]byte
	fail  error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string][]byte)}
}

// FailWith força todas as operações a falharem com err (nil desativa)
func (m *MemoryBackend) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MemoryBackend) GetItem(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return nil, false, m.fail
	}
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryBackend) SetItem(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.items[key] = v
	return nil
}

func (m *MemoryBackend) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	delete(m.items, key)
	return nil
}

// === File ===

// FileBackend grava cada chave em <dir>/<key>.json com permissão 0600
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend cria o diretório se necessário
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Path retorna o arquivo usado por uma chave (usado pelo filewatcher)
func (f *FileBackend) Path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// Dir retorna o diretório raiz do backend
func (f *FileBackend) Dir() string {
	return f.dir
}

func (f *FileBackend) GetItem(key string) ([]byte, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(f.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (f *FileBackend) SetItem(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	// Rename é atômico: leitores nunca veem um arquivo parcialmente escrito.
	if err := os.Rename(tmpName, f.Path(key)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (f *FileBackend) RemoveItem(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
