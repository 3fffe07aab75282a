package database

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"authdesk/internal/config"
	"authdesk/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// auditRetention é o número máximo de eventos de auditoria mantidos
const auditRetention = 1000

// Service encapsula o acesso ao SQLite via GORM
type Service struct {
	db *gorm.DB
}

var _ store.Backend = (*Service)(nil)

// NewService abre o primeiro caminho gravável e migra os models
func NewService(preferredPath string) (*Service, error) {
	dbPath, db, err := openWritableDatabase(preferredPath)
	if err != nil {
		return nil, err
	}

	svc, err := newServiceFromDB(db)
	if err != nil {
		return nil, err
	}

	// Definir permissão 0600 no arquivo do banco
	os.Chmod(dbPath, 0600)

	log.Printf("[DB] Database initialized at %s", dbPath)
	return svc, nil
}

func newServiceFromDB(db *gorm.DB) (*Service, error) {
	if err := db.AutoMigrate(
		&StorageEntry{},
		&AuthAuditLog{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return &Service{db: db}, nil
}

func openWritableDatabase(preferredPath string) (string, *gorm.DB, error) {
	candidates := make([]string, 0, 3)
	if override := strings.TrimSpace(preferredPath); override != "" {
		candidates = append(candidates, override)
	}
	candidates = append(candidates, filepath.Join(config.DataDir(), config.DBFileName))
	candidates = append(candidates, filepath.Join(os.TempDir(), config.AppName, config.DBFileName))

	var lastErr error
	for _, candidate := range candidates {
		path := strings.TrimSpace(candidate)
		if path == "" {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			lastErr = err
			continue
		}

		if !isLikelyWritable(path) {
			lastErr = fmt.Errorf("path not writable: %s", path)
			continue
		}

		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			lastErr = err
			continue
		}

		sqlDB, err := db.DB()
		if err != nil {
			lastErr = err
			continue
		}

		sqlDB.Exec("PRAGMA journal_mode=WAL")
		sqlDB.Exec("PRAGMA busy_timeout=5000")
		sqlDB.Exec("PRAGMA synchronous=NORMAL")

		return path, db, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no database path candidates available")
	}

	return "", nil, fmt.Errorf("failed to open writable database: %w", lastErr)
}

func isLikelyWritable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Close fecha a conexão com o banco
func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// === Storage (store.Backend) ===

// GetItem lê uma chave do armazenamento
func (s *Service) GetItem(key string) ([]byte, bool, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, false, err
	}
	var entry StorageEntry
	err := s.db.Where("storage_key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(entry.Value), true, nil
}

// SetItem grava (upsert) uma chave do armazenamento
func (s *Service) SetItem(key string, value []byte) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	entry := StorageEntry{Key: key, Value: string(value)}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

// RemoveItem apaga uma chave; chave ausente não é erro
func (s *Service) RemoveItem(key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	return s.db.Where("storage_key = ?", key).Delete(&StorageEntry{}).Error
}

// === AuthAuditLog CRUD ===

// SaveAuditEvent salva um evento e aplica retenção das últimas entradas.
func (s *Service) SaveAuditEvent(event *AuthAuditLog) error {
	if event == nil {
		return fmt.Errorf("audit event is nil")
	}
	if strings.TrimSpace(event.Event) == "" {
		return fmt.Errorf("audit event name is empty")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}

		// Mantém apenas os eventos mais recentes.
		return tx.Exec(`
			DELETE FROM auth_audit_logs
			WHERE id NOT IN (
				SELECT id
				FROM auth_audit_logs
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
		`, auditRetention).Error
	})
}

// ListAuditEvents lista eventos de auditoria em ordem decrescente.
// userID vazio lista todos.
func (s *Service) ListAuditEvents(userID string, limit int) ([]AuthAuditLog, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.db.Order("created_at DESC, id DESC").Limit(limit)
	if strings.TrimSpace(userID) != "" {
		query = query.Where("user_id = ?", userID)
	}

	var logs []AuthAuditLog
	err := query.Find(&logs).Error
	return logs, err
}
