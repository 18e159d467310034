package repositories

import (
	"context"

	"fleet-console-backend/db/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UploadBatchRepository interface {
	RecordBatch(ctx context.Context, log *models.UploadBatchLog) error
	ListBySession(ctx context.Context, sessionID string) ([]models.UploadBatchLog, error)
	LogEmailSent(ctx context.Context, emailLog *models.EmailLog) error
}

type uploadBatchRepository struct {
	db *gorm.DB
}

func NewUploadBatchRepository(db *gorm.DB) UploadBatchRepository {
	return &uploadBatchRepository{
		db: db,
	}
}

func (r *uploadBatchRepository) RecordBatch(ctx context.Context, log *models.UploadBatchLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// ListBySession returns the batches submitted from one session, oldest first.
func (r *uploadBatchRepository) ListBySession(ctx context.Context, sessionID string) ([]models.UploadBatchLog, error) {
	var logs []models.UploadBatchLog
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

func (r *uploadBatchRepository) LogEmailSent(ctx context.Context, emailLog *models.EmailLog) error {
	if emailLog.ID == "" {
		emailLog.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(emailLog).Error
}
