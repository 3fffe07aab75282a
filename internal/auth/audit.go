package auth

import (
	"log"
	"time"

	"authdesk/internal/database"
	"authdesk/internal/security"

	"github.com/google/uuid"
)

// DatabaseAuditor grava eventos de autenticação na tabela auth_audit_logs
type DatabaseAuditor struct {
	db        *database.Service
	sanitizer *security.LogSanitizer
	now       func() time.Time
}

// NewDatabaseAuditor cria um auditor sobre o banco local
func NewDatabaseAuditor(db *database.Service, sanitizer *security.LogSanitizer) *DatabaseAuditor {
	if sanitizer == nil {
		sanitizer = security.NewLogSanitizer()
	}
	return &DatabaseAuditor{db: db, sanitizer: sanitizer, now: time.Now}
}

// Record persiste o evento; falhas de gravação só geram log
func (a *DatabaseAuditor) Record(userID, event, outcome, details string) {
	if a == nil || a.db == nil {
		return
	}
	entry := &database.AuthAuditLog{
		CorrelationID: uuid.NewString(),
		UserID:        userID,
		Event:         event,
		Outcome:       outcome,
		Details:       a.sanitizer.Sanitize(details),
		CreatedAt:     a.now().UTC(),
	}
	if err := a.db.SaveAuditEvent(entry); err != nil {
		log.Printf("[AUDIT] Warning: failed to save %s event: %v", event, err)
	}
}
