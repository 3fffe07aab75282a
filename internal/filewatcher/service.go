package filewatcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Service implementa IFileWatcher usando fsnotify.
// Monitora o diretório de cada arquivo, pois escritas atômicas (temp + rename)
// substituem o inode e um watch no próprio arquivo se perderia.
type Service struct {
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	handlers []func(FileEvent)
	debounce map[string]*time.Timer
	recent   map[string]time.Time
	files    map[string]string // arquivo monitorado -> chave
	dirs     map[string]int    // diretório -> número de arquivos monitorados
	loopOn   bool
	done     chan struct{}
	closed   bool
	rawLogs  bool
	ignored  bool
	window   time.Duration
	delay    time.Duration

	// Callback para emitir eventos Wails (injetado pelo app.go)
	emitEvent func(eventName string, data interface{})
}

// NewService cria um novo FileWatcher Service
func NewService(emitEvent func(eventName string, data interface{})) (*Service, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Service{
		watcher:   watcher,
		handlers:  make([]func(FileEvent), 0),
		debounce:  make(map[string]*time.Timer),
		recent:    make(map[string]time.Time),
		files:     make(map[string]string),
		dirs:      make(map[string]int),
		done:      make(chan struct{}),
		rawLogs:   readEnvBool("AUTHDESK_FILEWATCHER_DEBUG_RAW"),
		ignored:   readEnvBool("AUTHDESK_FILEWATCHER_DEBUG_IGNORED"),
		window:    300 * time.Millisecond,
		delay:     150 * time.Millisecond,
		emitEvent: emitEvent,
	}, nil
}

// Watch inicia o monitoramento de filePath, reportando mudanças com a chave key.
// O arquivo não precisa existir ainda; o diretório sim.
func (s *Service) Watch(filePath, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("watcher is closed")
	}

	filePath = filepath.Clean(filePath)
	if _, alreadyWatching := s.files[filePath]; alreadyWatching {
		return nil
	}

	dir := filepath.Dir(filePath)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("storage directory not found: %s", dir)
	}

	if s.dirs[dir] == 0 {
		if err := s.watcher.Add(dir); err != nil {
			return fmt.Errorf("could not watch %s: %w", dir, err)
		}
	}
	s.dirs[dir]++
	s.files[filePath] = key
	log.Printf("[FileWatcher] Watching %s (key=%s)", filePath, key)

	// Iniciar event loop apenas uma vez
	if !s.loopOn {
		s.loopOn = true
		go s.eventLoop()
	}

	return nil
}

// Unwatch para o monitoramento de um arquivo
func (s *Service) Unwatch(filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath = filepath.Clean(filePath)
	if _, exists := s.files[filePath]; !exists {
		return nil
	}
	delete(s.files, filePath)

	dir := filepath.Dir(filePath)
	s.dirs[dir]--
	if s.dirs[dir] <= 0 {
		delete(s.dirs, dir)
		_ = s.watcher.Remove(dir)
	}

	log.Printf("[FileWatcher] Unwatched %s", filePath)
	return nil
}

// OnChange registra um handler para receber eventos
func (s *Service) OnChange(handler func(event FileEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Close encerra todos os watchers
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	// Cancelar todos os debounce timers
	for _, timer := range s.debounce {
		timer.Stop()
	}

	close(s.done)
	return s.watcher.Close()
}

// === Event Loop ===

func (s *Service) eventLoop() {
	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if s.rawLogs {
				log.Printf("[FileWatcher][raw] op=%s path=%s", event.Op.String(), event.Name)
			}

			if !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) &&
				!event.Has(fsnotify.Remove) {
				continue
			}

			path := normalizeStorageEventPath(event.Name)
			if _, _, ok := s.lookup(path); !ok {
				if s.ignored {
					log.Printf("[FileWatcher] Event ignored (not tracked): %s", event.Name)
				}
				continue
			}

			// Debounce por arquivo: uma escrita atômica gera vários eventos.
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			if timer, exists := s.debounce[path]; exists {
				timer.Stop()
			}
			s.debounce[path] = time.AfterFunc(s.delay, func() {
				s.handleDebouncedEvent(path)
			})
			s.mu.Unlock()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[FileWatcher] Error: %v", err)
		}
	}
}

func (s *Service) handleDebouncedEvent(path string) {
	trackedPath, key, ok := s.lookup(path)
	if !ok {
		return
	}

	fileEvent := classifyEvent(trackedPath, key)
	if !s.shouldEmit(fileEvent) {
		if s.ignored {
			log.Printf("[FileWatcher] Event deduped: %s (%s)", fileEvent.Type, fileEvent.Path)
		}
		return
	}

	log.Printf("[FileWatcher] Event: %s (key=%s)", fileEvent.Type, fileEvent.Key)

	// Notificar handlers registrados
	s.mu.RLock()
	handlers := make([]func(FileEvent), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(fileEvent)
	}

	// Emitir evento Wails se callback configurado
	if s.emitEvent != nil {
		s.emitEvent("storage:changed", fileEvent)
	}
}

// lookup resolve o arquivo monitorado (e sua chave) a partir do caminho do evento.
// Arquivos auxiliares do SQLite (-wal, -journal) contam como o próprio banco.
func (s *Service) lookup(path string) (string, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.files[path]; ok {
		return path, key, true
	}
	for _, suffix := range []string{"-wal", "-journal", "-shm"} {
		base := strings.TrimSuffix(path, suffix)
		if base == path {
			continue
		}
		if key, ok := s.files[base]; ok {
			return base, key, true
		}
	}
	return "", "", false
}

func (s *Service) shouldEmit(event FileEvent) bool {
	key := semanticEventKey(event)
	now := time.Now()
	cutoff := now.Add(-3 * s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ts := range s.recent {
		if ts.Before(cutoff) {
			delete(s.recent, k)
		}
	}

	if last, exists := s.recent[key]; exists && now.Sub(last) <= s.window {
		return false
	}

	s.recent[key] = now
	return true
}

func semanticEventKey(event FileEvent) string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString(event.Type)
	b.WriteString("|")
	b.WriteString(normalizeStorageEventPath(event.Path))
	if event.Key != "" {
		b.WriteString("|key=")
		b.WriteString(event.Key)
	}
	return b.String()
}

// classifyEvent decide o tipo pelo estado atual do arquivo, não pela op do fsnotify
func classifyEvent(path, key string) FileEvent {
	eventType := "storage_changed"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		eventType = "storage_removed"
	}
	return FileEvent{
		Type:      eventType,
		Key:       key,
		Path:      path,
		Timestamp: time.Now(),
		Details:   map[string]string{},
	}
}

// === Helper Functions ===

// normalizeStorageEventPath limpa o caminho; arquivos temporários da escrita
// atômica não são monitorados, só o rename final sobre o arquivo.
func normalizeStorageEventPath(path string) string {
	return filepath.Clean(path)
}

func readEnvBool(key string) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}
