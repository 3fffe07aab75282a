package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// AppName é o nome do aplicativo
	AppName = "AuthDesk"

	// AppVersion é a versão atual
	AppVersion = "1.0.0"

	// AppBundleID é o bundle identifier macOS
	AppBundleID = "com.authdesk.app"

	// DBFileName é o nome do arquivo SQLite
	DBFileName = "authdesk_data.db"

	// AuthStorageKey é a chave fixa do subconjunto persistido do Session Store
	AuthStorageKey = "auth-storage"

	// ProviderStorageKey é a chave onde o cliente GoTrue guarda o par de tokens
	ProviderStorageKey = "sb-auth-token"

	// DefaultResetRedirect é o destino do link de reset de senha
	DefaultResetRedirect = "authdesk://reset-password"

	// RefreshMargin antecipa o refresh automático antes da expiração
	RefreshMargin = 60 * time.Second

	// RefreshTickInterval é o intervalo do loop de auto refresh
	RefreshTickInterval = 30 * time.Second

	// QueryCacheTTL é o TTL das consultas de identidade/sessão cacheadas
	QueryCacheTTL = 5 * time.Minute

	// ProviderRequestTimeout limita cada chamada HTTP ao provedor
	ProviderRequestTimeout = 15 * time.Second
)

// StorageKind seleciona o backend de persistência local
type StorageKind string

const (
	StorageFile    StorageKind = "file"
	StorageKeyring StorageKind = "keyring"
	StorageSQLite  StorageKind = "sqlite"
)

// Settings reúne a configuração de runtime lida do ambiente
type Settings struct {
	ProviderURL   string
	AnonKey       string
	Storage       StorageKind
	ResetRedirect string
	DataDir       string
	DBPath        string
}

// Load lê as variáveis AUTHDESK_* aplicando defaults.
func Load() Settings {
	s := Settings{
		ProviderURL:   strings.TrimRight(strings.TrimSpace(os.Getenv("AUTHDESK_PROVIDER_URL")), "/"),
		AnonKey:       strings.TrimSpace(os.Getenv("AUTHDESK_ANON_KEY")),
		Storage:       ParseStorageKind(os.Getenv("AUTHDESK_STORAGE")),
		ResetRedirect: strings.TrimSpace(os.Getenv("AUTHDESK_RESET_REDIRECT")),
		DataDir:       strings.TrimSpace(os.Getenv("AUTHDESK_DATA_DIR")),
		DBPath:        strings.TrimSpace(os.Getenv("AUTHDESK_DB_PATH")),
	}
	if s.ResetRedirect == "" {
		s.ResetRedirect = DefaultResetRedirect
	}
	if s.DataDir == "" {
		s.DataDir = DataDir()
	}
	if s.DBPath == "" {
		s.DBPath = filepath.Join(s.DataDir, DBFileName)
	}
	return s
}

// ParseStorageKind normaliza o valor de AUTHDESK_STORAGE; desconhecido cai em file.
func ParseStorageKind(raw string) StorageKind {
	switch StorageKind(strings.ToLower(strings.TrimSpace(raw))) {
	case StorageKeyring:
		return StorageKeyring
	case StorageSQLite:
		return StorageSQLite
	default:
		return StorageFile
	}
}

// DataDir retorna o diretório raiz de dados do app
func DataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+strings.ToLower(AppName))
}

// StorageDir retorna o diretório do backend de arquivos (equivalente ao localStorage)
func (s Settings) StorageDir() string {
	return filepath.Join(s.DataDir, "storage")
}

// LogDir retorna o diretório de logs
func (s Settings) LogDir() string {
	return filepath.Join(s.DataDir, "logs")
}

// EnsureDataDirs cria os diretórios necessários se não existirem
func (s Settings) EnsureDataDirs() error {
	dirs := []string{
		s.DataDir,
		s.StorageDir(),
		s.LogDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}
