package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/types"
)

type JobRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, runs []*types.JobRun) ([]*types.JobRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID string, limit int) ([]*types.JobRun, error)
	FailActive(ctx context.Context, tx *gorm.DB, reason string) (int64, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{db: db, log: baseLog.With("repo", "JobRunRepo")}
}

func (r *jobRunRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *jobRunRepo) Create(ctx context.Context, tx *gorm.DB, runs []*types.JobRun) ([]*types.JobRun, error) {
	if len(runs) == 0 {
		return []*types.JobRun{}, nil
	}
	if err := r.conn(tx).WithContext(ctx).Create(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *jobRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	var run types.JobRun
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *jobRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// FailActive marks every active run as failed. The worker pool holds no
// state across restarts, so an active row after boot can only be stale.
func (r *jobRunRepo) FailActive(ctx context.Context, tx *gorm.DB, reason string) (int64, error) {
	res := r.conn(tx).WithContext(ctx).
		Model(&types.JobRun{}).
		Where("status = ?", types.JobStatusActive).
		Updates(map[string]any{
			"status": types.JobStatusFailed,
			"error":  reason,
		})
	return res.RowsAffected, res.Error
}

func (r *jobRunRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID string, limit int) ([]*types.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []*types.JobRun
	err := r.conn(tx).WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
