package store

import (
	"context"
	stderrors "errors"
	"time"

	"FuelSOS/internal/models"
	"FuelSOS/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store wraps the database with the primitives dispatch relies on: reads,
// conditional updates that report whether the expectation held, batched
// writes in one transaction, and the per-request version counter.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn against a transactional Store. Inside fn only the
// provided Store may be used.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Expect maps column to required current value; nil means IS NULL.
type Expect map[string]interface{}

// Fields maps column to new value.
type Fields map[string]interface{}

func (s *Store) updateIf(ctx context.Context, model interface{}, id string, expect Expect, fields Fields) (bool, error) {
	q := s.db.WithContext(ctx).Model(model).Where("id = ?", id)
	for col, v := range expect {
		if v == nil {
			q = q.Where(col + " IS NULL")
		} else {
			q = q.Where(col+" = ?", v)
		}
	}
	res := q.Updates(map[string]interface{}(fields))
	if res.Error != nil {
		return false, errors.Internal(res.Error, "conditional update")
	}
	return res.RowsAffected == 1, nil
}

func notFound(err error, what, id string) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(errors.ErrNotFound, "%s %s", what, id)
	}
	return errors.Internal(err, "load "+what)
}

// Page is 1-based.
type Page struct {
	Page  int
	Limit int
}

func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 10
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.Limit }

// ---- requests ----

func (s *Store) CreateRequest(ctx context.Context, req *models.SOSRequest) error {
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return errors.Internal(err, "create request")
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*models.SOSRequest, error) {
	var req models.SOSRequest
	if err := s.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "request", id)
	}
	return &req, nil
}

// UpdateRequestIf applies fields when every expectation holds and bumps the
// version counter in the same statement.
func (s *Store) UpdateRequestIf(ctx context.Context, id string, expect Expect, fields Fields) (bool, error) {
	fields["version"] = gorm.Expr("version + ?", 1)
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return s.updateIf(ctx, &models.SOSRequest{}, id, expect, fields)
}

// ListRequestsByRequester returns newest first with the total count.
func (s *Store) ListRequestsByRequester(ctx context.Context, requesterID string, page Page) ([]models.SOSRequest, int64, error) {
	page = page.Normalize()
	q := s.db.WithContext(ctx).Model(&models.SOSRequest{}).Where("requester_id = ?", requesterID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Internal(err, "count requests")
	}
	var out []models.SOSRequest
	err := s.db.WithContext(ctx).
		Where("requester_id = ?", requesterID).
		Order("created_at DESC").Order("id DESC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, errors.Internal(err, "list requests")
	}
	return out, total, nil
}

func (s *Store) RecordCancellation(ctx context.Context, c *models.Cancellation) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return errors.Internal(err, "record cancellation")
	}
	return nil
}

// ---- attendants ----

// UpsertAttendant creates the attendant or refreshes its directory entry,
// verification and rating included. Availability and the current request
// are never overwritten here.
func (s *Store) UpsertAttendant(ctx context.Context, a *models.Attendant) error {
	return s.upsertAttendant(ctx, a, []string{
		"name", "phone", "vehicle_plate", "latitude", "longitude",
		"is_verified", "rating", "review_count", "updated_at",
	})
}

// UpsertAttendantProfile is UpsertAttendant limited to what an attendant
// may change about themselves.
func (s *Store) UpsertAttendantProfile(ctx context.Context, a *models.Attendant) error {
	return s.upsertAttendant(ctx, a, []string{
		"name", "phone", "vehicle_plate", "latitude", "longitude", "updated_at",
	})
}

func (s *Store) upsertAttendant(ctx context.Context, a *models.Attendant, columns []string) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(a).Error
	if err != nil {
		return errors.Internal(err, "upsert attendant")
	}
	return nil
}

func (s *Store) GetAttendant(ctx context.Context, id string) (*models.Attendant, error) {
	var a models.Attendant
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "attendant", id)
	}
	return &a, nil
}

func (s *Store) GetAttendants(ctx context.Context, ids []string) ([]models.Attendant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Attendant
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, errors.Internal(err, "load attendants")
	}
	return out, nil
}

// UpdateAttendantLocation moves an existing attendant; false when unknown.
func (s *Store) UpdateAttendantLocation(ctx context.Context, id string, loc models.Location) (bool, error) {
	return s.updateIf(ctx, &models.Attendant{}, id, nil, Fields{
		"latitude":   loc.Latitude,
		"longitude":  loc.Longitude,
		"updated_at": time.Now().UTC(),
	})
}

func (s *Store) UpdateAttendantIf(ctx context.Context, id string, expect Expect, fields Fields) (bool, error) {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return s.updateIf(ctx, &models.Attendant{}, id, expect, fields)
}

// Box is a latitude/longitude rectangle. MinLon > MaxLon wraps the antimeridian.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// ListAttendantsInBox returns every attendant positioned inside box,
// regardless of availability.
func (s *Store) ListAttendantsInBox(ctx context.Context, box Box) ([]models.Attendant, error) {
	q := s.db.WithContext(ctx).Where("latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat)
	if box.MinLon <= box.MaxLon {
		q = q.Where("longitude BETWEEN ? AND ?", box.MinLon, box.MaxLon)
	} else {
		q = q.Where("(longitude >= ? OR longitude <= ?)", box.MinLon, box.MaxLon)
	}
	var out []models.Attendant
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.Internal(err, "query attendants")
	}
	return out, nil
}

func (s *Store) ListAttendants(ctx context.Context) ([]models.Attendant, error) {
	var out []models.Attendant
	if err := s.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, errors.Internal(err, "list attendants")
	}
	return out, nil
}

// ---- assignments ----

func (s *Store) CreateAssignments(ctx context.Context, as []models.Assignment) error {
	if len(as) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&as).Error; err != nil {
		return errors.Internal(err, "create assignments")
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	var a models.Assignment
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "assignment", id)
	}
	return &a, nil
}

// ListAssignments returns a request's assignments in rank order; statuses
// filters when non-empty.
func (s *Store) ListAssignments(ctx context.Context, requestID string, statuses ...models.AssignmentStatus) ([]models.Assignment, error) {
	q := s.db.WithContext(ctx).Where("sos_request_id = ?", requestID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []models.Assignment
	if err := q.Order("offer_rank").Find(&out).Error; err != nil {
		return nil, errors.Internal(err, "list assignments")
	}
	return out, nil
}

// ListPendingForAttendant returns open offers for one attendant, oldest first.
func (s *Store) ListPendingForAttendant(ctx context.Context, attendantID string) ([]models.Assignment, error) {
	var out []models.Assignment
	err := s.db.WithContext(ctx).
		Where("attendant_id = ? AND status = ?", attendantID, models.AssignmentPending).
		Order("created_at").Find(&out).Error
	if err != nil {
		return nil, errors.Internal(err, "list pending assignments")
	}
	return out, nil
}

func (s *Store) ListExpiredAssignments(ctx context.Context, now time.Time, limit int) ([]models.Assignment, error) {
	var out []models.Assignment
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.AssignmentPending, now).
		Order("expires_at").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, errors.Internal(err, "list expired assignments")
	}
	return out, nil
}

func (s *Store) UpdateAssignmentIf(ctx context.Context, id string, expect Expect, fields Fields) (bool, error) {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return s.updateIf(ctx, &models.Assignment{}, id, expect, fields)
}

// CloseOpenAssignments moves every pending assignment of a request, except
// keepID, to status and returns the ones it moved.
func (s *Store) CloseOpenAssignments(ctx context.Context, requestID, keepID string, status models.AssignmentStatus, at time.Time) ([]models.Assignment, error) {
	open, err := s.ListAssignments(ctx, requestID, models.AssignmentPending)
	if err != nil {
		return nil, err
	}
	closed := make([]models.Assignment, 0, len(open))
	for _, a := range open {
		if a.ID == keepID {
			continue
		}
		ok, err := s.UpdateAssignmentIf(ctx, a.ID, Expect{"status": models.AssignmentPending}, Fields{
			"status":       status,
			"responded_at": at,
			"updated_at":   at,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			a.Status = status
			closed = append(closed, a)
		}
	}
	return closed, nil
}

// ---- notifications ----

func (s *Store) RecordNotification(ctx context.Context, n *models.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return errors.Internal(err, "record notification")
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, page Page) ([]models.Notification, int64, error) {
	page = page.Normalize()
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Notification{}).Where("recipient_id = ?", recipientID).Count(&total).Error; err != nil {
		return nil, 0, errors.Internal(err, "count notifications")
	}
	var out []models.Notification
	err := s.db.WithContext(ctx).Where("recipient_id = ?", recipientID).
		Order("created_at DESC").Offset(page.Offset()).Limit(page.Limit).Find(&out).Error
	if err != nil {
		return nil, 0, errors.Internal(err, "list notifications")
	}
	return out, total, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, recipientID string) (bool, error) {
	return s.updateIf(ctx, &models.Notification{}, id, Expect{"recipient_id": recipientID}, Fields{"is_read": true})
}
