package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/types"
)

type GraphRepo interface {
	Create(ctx context.Context, tx *gorm.DB, graphs []*types.KnowledgeGraph) ([]*types.KnowledgeGraph, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeGraph, error)
}

type graphRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGraphRepo(db *gorm.DB, baseLog *logger.Logger) GraphRepo {
	return &graphRepo{db: db, log: baseLog.With("repo", "GraphRepo")}
}

func (r *graphRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *graphRepo) Create(ctx context.Context, tx *gorm.DB, graphs []*types.KnowledgeGraph) ([]*types.KnowledgeGraph, error) {
	if len(graphs) == 0 {
		return []*types.KnowledgeGraph{}, nil
	}
	if err := r.conn(tx).WithContext(ctx).Create(&graphs).Error; err != nil {
		return nil, err
	}
	return graphs, nil
}

func (r *graphRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeGraph, error) {
	var g types.KnowledgeGraph
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}
