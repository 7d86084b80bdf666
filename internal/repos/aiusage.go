package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/types"
)

// OperationCost is one row of the per-operation spend breakdown.
type OperationCost struct {
	Operation string  `json:"operation"`
	TotalCost float64 `json:"total_cost"`
	Count     int64   `json:"count"`
}

type AIUsageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, records []*types.AIUsageRecord) ([]*types.AIUsageRecord, error)
	SumCostBetween(ctx context.Context, tx *gorm.DB, userID string, from, to time.Time) (float64, error)
	CountBetween(ctx context.Context, tx *gorm.DB, userID string, from, to time.Time) (int64, error)
	BreakdownByOperation(ctx context.Context, tx *gorm.DB, userID string, from, to time.Time) ([]OperationCost, error)
}

type aiUsageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAIUsageRepo(db *gorm.DB, baseLog *logger.Logger) AIUsageRepo {
	return &aiUsageRepo{db: db, log: baseLog.With("repo", "AIUsageRepo")}
}

func (r *aiUsageRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *aiUsageRepo) Create(ctx context.Context, tx *gorm.DB, records []*types.AIUsageRecord) ([]*types.AIUsageRecord, error) {
	if len(records) == 0 {
		return []*types.AIUsageRecord{}, nil
	}
	if err := r.conn(tx).WithContext(ctx).Create(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *aiUsageRepo) SumCostBetween(ctx context.Context, tx *gorm.DB, userID string, from, to time.Time) (float64, error) {
	var total float64
	err := r.conn(tx).WithContext(ctx).
		Model(&types.AIUsageRecord{}).
		Select("COALESCE(SUM(cost), 0)").
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, from, to).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *aiUsageRepo) CountBetween(ctx context.Context, tx *gorm.DB, userID string, from, to time.Time) (int64, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&types.AIUsageRecord{}).
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, from, to).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *aiUsageRepo) BreakdownByOperation(ctx context.Context, tx *gorm.DB, userID string, from, to time.Time) ([]OperationCost, error) {
	var rows []OperationCost
	err := r.conn(tx).WithContext(ctx).
		Model(&types.AIUsageRecord{}).
		Select("operation, COALESCE(SUM(cost), 0) AS total_cost, COUNT(*) AS count").
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, from, to).
		Group("operation").
		Order("total_cost DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
