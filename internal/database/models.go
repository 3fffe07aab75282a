package database

import "time"

// StorageEntry é uma linha do armazenamento chave-valor (equivalente ao localStorage)
type StorageEntry struct {
	Key       string    `gorm:"column:storage_key;primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuthAuditLog armazena eventos de autenticação (sign in/out, refresh, falhas).
// Details passa pelo LogSanitizer antes de ser gravado.
type AuthAuditLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CorrelationID string    `gorm:"index;not null" json:"correlationId"`
	UserID        string    `gorm:"index" json:"userId,omitempty"`
	Event         string    `gorm:"index;not null" json:"event"`
	Outcome       string    `gorm:"not null" json:"outcome"` // "ok" | "error" | "ignored"
	Details       string    `gorm:"type:text" json:"details,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}
