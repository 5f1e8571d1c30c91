package service

import (
	"context"

	"procurement/internal/repository"
	"procurement/pkg/apperr"
)

type AuditLogResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	OldValues  string `json:"old_values,omitempty"`
	NewValues  string `json:"new_values,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, entityType, entityID string, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	audit repository.AuditRepository
}

func NewAuditService(audit repository.AuditRepository) AuditService {
	return &auditService{audit: audit}
}

// GetAuditLogs returns the trail newest first, optionally filtered to one
// entity. System-generated entries (no user) show as "System".
func (s *auditService) GetAuditLogs(ctx context.Context, entityType, entityID string, page, limit int) ([]AuditLogResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	logs, total, err := s.audit.List(ctx, entityType, entityID, page, limit)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list audit logs")
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		username := "System"
		userID := ""
		if l.User != nil {
			username = l.User.Username
		}
		if l.UserID != nil {
			userID = l.UserID.String()
		}

		res = append(res, AuditLogResponse{
			ID:         l.ID.String(),
			UserID:     userID,
			Username:   username,
			Action:     l.Action,
			EntityType: l.EntityType,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			OldValues:  l.OldValues,
			NewValues:  l.NewValues,
			CreatedAt:  l.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	return res, total, nil
}
