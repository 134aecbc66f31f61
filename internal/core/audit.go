package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionImport         AuditAction = "import"
	ActionVehicleCreate  AuditAction = "vehicle_create"
	ActionVehicleDepart  AuditAction = "vehicle_depart"
	ActionVehicleUpdate  AuditAction = "vehicle_update"
	ActionVehicleDelete  AuditAction = "vehicle_delete"
	ActionPeriodDelete   AuditAction = "period_delete"
	ActionRetentionPurge AuditAction = "retention_purge"
	ActionUserCreate     AuditAction = "user_create"
	ActionUserUpdate     AuditAction = "user_update"
	ActionUserDelete     AuditAction = "user_delete"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           string        `json:"id"`
	Action       AuditAction   `json:"action"`
	Severity     AuditSeverity `json:"severity"`
	UserID       string        `json:"userId,omitempty"`
	UserName     string        `json:"userName,omitempty"`
	IPAddress    string        `json:"ipAddress,omitempty"`
	UserAgent    string        `json:"userAgent,omitempty"`
	Subject      string        `json:"subject,omitempty"` // record id, plate or user id
	RowsAffected int           `json:"rowsAffected,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// AuditLogParams contains parameters for creating an audit log entry.
type AuditLogParams struct {
	Action       AuditAction
	Actor        Identity
	Subject      string
	RowsAffected int
	Reason       string
}

func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionImport, ActionVehicleDelete, ActionUserDelete:
		return SeverityHigh
	case ActionPeriodDelete, ActionRetentionPurge:
		return SeverityCritical
	case ActionVehicleCreate, ActionVehicleDepart:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// LogAudit records an audit entry. Failures are logged and otherwise
// ignored so an audit outage never fails the audited operation.
func (s *Service) LogAudit(ctx context.Context, params AuditLogParams) {
	entry := AuditEntry{
		ID:           uuid.New().String(),
		Action:       params.Action,
		Severity:     determineSeverity(params.Action),
		UserID:       params.Actor.UserID,
		UserName:     params.Actor.FullName,
		IPAddress:    GetIPAddressFromContext(ctx),
		UserAgent:    GetUserAgentFromContext(ctx),
		Subject:      params.Subject,
		RowsAffected: params.RowsAffected,
		Reason:       params.Reason,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.store.InsertAudit(ctx, entry); err != nil {
		slog.Warn("audit log write failed",
			"action", params.Action,
			"subject", params.Subject,
			"error", err,
		)
	}
}

// AuditLog returns the most recent audit entries. Admin only.
func (s *Service) AuditLog(ctx context.Context, id Identity, limit int) ([]AuditEntry, error) {
	if !id.IsAdmin() {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	return s.store.ListAudit(ctx, limit)
}
