package store

import (
	"context"
	"time"

	"FuelSOS/internal/models"
	"FuelSOS/pkg/errors"
)

// CreateCall stores a call together with its participant index rows.
func (s *Store) CreateCall(ctx context.Context, call *models.Call) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.WithContext(ctx).Create(call).Error; err != nil {
			return errors.Internal(err, "create call")
		}
		return nil
	})
}

func (s *Store) GetCall(ctx context.Context, id string) (*models.Call, error) {
	var c models.Call
	err := s.db.WithContext(ctx).Preload("Participants").First(&c, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "call", id)
	}
	return &c, nil
}

func (s *Store) UpdateCallIf(ctx context.Context, id string, expect Expect, fields Fields) (bool, error) {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return s.updateIf(ctx, &models.Call{}, id, expect, fields)
}

func (s *Store) RecordCallActivity(ctx context.Context, a *models.CallActivity) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return errors.Internal(err, "record call activity")
	}
	return nil
}

func (s *Store) ListCallActivity(ctx context.Context, callID string) ([]models.CallActivity, error) {
	var out []models.CallActivity
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).Order("id").Find(&out).Error; err != nil {
		return nil, errors.Internal(err, "list call activity")
	}
	return out, nil
}

// ListCallsForUser pages over every call the user took part in, in any role,
// newest first. Counting and paging run over the one participant index.
func (s *Store) ListCallsForUser(ctx context.Context, userID string, page Page) ([]models.Call, int64, error) {
	page = page.Normalize()
	base := s.db.WithContext(ctx).Model(&models.Call{}).
		Joins("JOIN call_participants cp ON cp.call_id = calls.id").
		Where("cp.user_id = ?", userID)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, errors.Internal(err, "count calls")
	}
	var out []models.Call
	err := s.db.WithContext(ctx).
		Joins("JOIN call_participants cp ON cp.call_id = calls.id").
		Where("cp.user_id = ?", userID).
		Preload("Participants").
		Order("calls.created_at DESC").Order("calls.id DESC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, errors.Internal(err, "list calls")
	}
	return out, total, nil
}
