package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// UploadBatchStatus is the outcome of one confirm-upload attempt.
type UploadBatchStatus string

const (
	UploadBatchSucceeded UploadBatchStatus = "Succeeded"
	UploadBatchFailed    UploadBatchStatus = "Failed"
)

// UploadBatchLog records every confirm-upload attempt made from the console.
type UploadBatchLog struct {
	ID             uuid.UUID         `gorm:"type:uuid;primary_key;" json:"id"`
	SessionID      string            `gorm:"index" json:"session_id"`
	Bucket         Bucket            `json:"bucket"`
	Submitted      int               `json:"submitted"`
	ProcessedCount int               `json:"processed_count"`
	SkippedCount   int               `json:"skipped_count"`
	CreatedCount   int               `json:"created_count"`
	ForceCreate    bool              `json:"force_create"`
	Status         UploadBatchStatus `json:"status"`
	Reason         string            `json:"reason"`
	RowNumbers     datatypes.JSON    `json:"row_numbers"`
	CreatedJobs    datatypes.JSON    `json:"created_jobs"`
	CreatedBy      string            `json:"created_by"` // operator who submitted the batch
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
