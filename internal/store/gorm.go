package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"canvas-backend/internal/model"
)

const pgInsufficientPrivilege = "42501"

// GormStore is the postgres-backed Store. CAS writes are a conditional
// UPDATE fenced on the version column; RowsAffected == 0 is disambiguated
// into conflict vs. not-found by a follow-up read.
type GormStore struct {
	db       *gorm.DB
	log      *zap.Logger
	notifier *notifier
}

func NewGormStore(db *gorm.DB, log *zap.Logger) *GormStore {
	return &GormStore{db: db, log: log, notifier: newNotifier()}
}

func (s *GormStore) Read(ctx context.Context, id string) (*model.ShapeNode, error) {
	var n model.ShapeNode
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, translatePgError(err)
	}
	return &n, nil
}

func (s *GormStore) ListPage(ctx context.Context, pageID string) ([]*model.ShapeNode, error) {
	var shapes []*model.ShapeNode
	err := s.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("order_key ASC").
		Find(&shapes).Error
	if err != nil {
		return nil, translatePgError(err)
	}
	return shapes, nil
}

func (s *GormStore) Create(ctx context.Context, n *model.ShapeNode) error {
	if n.Version == 0 {
		n.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return translatePgError(err)
	}
	s.publishPage(ctx, n.PageID)
	return nil
}

func (s *GormStore) Write(ctx context.Context, id string, patch model.ShapePatch, expectedVersion int64, meta WriteMeta) (int64, error) {
	updates := patch.Fields()
	newVersion := expectedVersion + 1
	updates["version"] = newVersion
	updates["updated_by"] = meta.Actor
	updates["updated_at"] = time.Now()
	updates["updated_by_request"] = meta.RequestID

	res := s.db.WithContext(ctx).
		Model(&model.ShapeNode{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return 0, translatePgError(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Read(ctx, id); errors.Is(err, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, ErrConflict
	}

	s.notifyShapePage(ctx, id)
	return newVersion, nil
}

func (s *GormStore) Reparent(ctx context.Context, id string, newParentID *string, localX, localY, orderKey float64, expectedVersion int64, meta WriteMeta) (int64, error) {
	newVersion := expectedVersion + 1
	updates := map[string]any{
		"parent_id":          newParentID,
		"x":                  localX,
		"y":                  localY,
		"order_key":          orderKey,
		"version":            newVersion,
		"updated_by":         meta.Actor,
		"updated_at":         time.Now(),
		"updated_by_request": meta.RequestID,
	}

	res := s.db.WithContext(ctx).
		Model(&model.ShapeNode{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return 0, translatePgError(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Read(ctx, id); errors.Is(err, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, ErrConflict
	}

	s.notifyShapePage(ctx, id)
	return newVersion, nil
}

// notifyShapePage resolves the shape's page and fans the event out to its
// subscribers. A failed lookup is logged; the write itself already landed.
func (s *GormStore) notifyShapePage(ctx context.Context, id string) {
	var pageID string
	err := s.db.WithContext(ctx).
		Model(&model.ShapeNode{}).
		Where("id = ?", id).
		Pluck("page_id", &pageID).Error
	if err != nil {
		s.log.Warn("page lookup for fan-out failed", zap.String("shape", id), zap.Error(err))
		return
	}
	if pageID != "" {
		s.publishPage(ctx, pageID)
	}
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	n, err := s.Read(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&model.ShapeNode{}, "id = ?", id).Error; err != nil {
		return translatePgError(err)
	}
	s.publishPage(ctx, n.PageID)
	return nil
}

func (s *GormStore) Subscribe(pageID string) (<-chan []*model.ShapeNode, func()) {
	ch, cancel := s.notifier.subscribe(pageID)
	go s.publishPage(context.Background(), pageID)
	return ch, cancel
}

func (s *GormStore) publishPage(ctx context.Context, pageID string) {
	shapes, err := s.ListPage(ctx, pageID)
	if err != nil {
		s.log.Warn("failed to load page for fan-out", zap.String("page", pageID), zap.Error(err))
		return
	}
	s.notifier.publish(pageID, shapes)
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInsufficientPrivilege {
		return ErrPermissionDenied
	}
	return err
}
