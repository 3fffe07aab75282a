package filewatcher

import "time"

// FileEvent representa uma mudança detectada em um arquivo de armazenamento
type FileEvent struct {
	Type      string            `json:"type"`      // "storage_changed", "storage_removed"
	Key       string            `json:"key"`       // Chave de armazenamento associada ao arquivo
	Path      string            `json:"path"`      // Caminho do arquivo alterado
	Timestamp time.Time         `json:"timestamp"` // Quando o evento ocorreu
	Details   map[string]string `json:"details"`   // Detalhes extras (op do fsnotify)
}

// IFileWatcher define a interface do serviço de monitoramento do armazenamento local
type IFileWatcher interface {
	// Watch inicia o monitoramento de um arquivo associado a uma chave
	Watch(filePath, key string) error

	// Unwatch para o monitoramento de um arquivo
	Unwatch(filePath string) error

	// OnChange registra um handler para receber eventos
	OnChange(handler func(event FileEvent))

	// Close encerra todos os watchers
	Close() error
}
