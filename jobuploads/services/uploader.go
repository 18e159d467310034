package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fleet-console-backend/db/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConfirmFunc asks the operator to approve creating jobs the backend already
// holds. Returning false cancels the submission.
type ConfirmFunc func(ctx context.Context, rows []models.UploadRow) bool

// BatchRecorder stores an audit entry per confirm-upload attempt.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, log *models.UploadBatchLog) error
}

// UploadOutcome reports a bucket submission.
type UploadOutcome struct {
	Bucket         models.Bucket       `json:"bucket"`
	Submitted      []int               `json:"submitted"`
	Skipped        []int               `json:"skipped,omitempty"`
	StillInvalid   []int               `json:"still_invalid,omitempty"`
	ProcessedCount int                 `json:"processed_count"`
	SkippedCount   int                 `json:"skipped_count"`
	CreatedJobs    []models.CreatedJob `json:"created_jobs"`
	Message        string              `json:"message,omitempty"`
	ForceCreate    bool                `json:"force_create,omitempty"`
}

type UploaderConfig struct {
	Scope   LockScope
	LockTTL time.Duration
}

func DefaultUploaderConfig() UploaderConfig {
	return UploaderConfig{Scope: LockPerSession, LockTTL: 5 * time.Minute}
}

// Uploader submits the selected rows of one bucket to the confirm-upload
// endpoint. Only one submission per lock key runs at a time.
type Uploader struct {
	backend  JobUploadBackend
	locker   BucketLocker
	recorder BatchRecorder
	cfg      UploaderConfig
	logger   *zap.Logger
}

func NewUploader(backend JobUploadBackend, locker BucketLocker, recorder BatchRecorder, cfg UploaderConfig, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if cfg.Scope == "" {
		cfg.Scope = LockPerSession
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultUploaderConfig().LockTTL
	}
	return &Uploader{backend: backend, locker: locker, recorder: recorder, cfg: cfg, logger: logger}
}

// Upload dispatches to the bucket's submit flow. confirm is only consulted
// for database duplicates.
func (u *Uploader) Upload(ctx context.Context, s *Session, bucket models.Bucket, selected []int, confirm ConfirmFunc) (*UploadOutcome, error) {
	switch bucket {
	case models.BucketValid:
		return u.UploadValid(ctx, s, selected)
	case models.BucketError:
		return u.UploadError(ctx, s, selected)
	case models.BucketXlsDuplicate:
		return u.UploadXlsDuplicates(ctx, s, selected)
	case models.BucketDBDuplicate:
		return u.UploadDBDuplicates(ctx, s, selected, confirm)
	}
	return nil, fmt.Errorf("unknown bucket %q", bucket)
}

// UploadValid creates jobs for the selected valid rows. Created rows get
// their job id and otherwise stay as they were.
func (u *Uploader) UploadValid(ctx context.Context, s *Session, selected []int) (*UploadOutcome, error) {
	if _, _, err := u.pick(s, models.BucketValid, selected); err != nil {
		return nil, err
	}

	return u.locked(ctx, s, models.BucketValid, func() (*UploadOutcome, error) {
		rows, gen, err := u.pick(s, models.BucketValid, selected)
		if err != nil {
			return nil, err
		}
		return u.confirm(ctx, s, gen, models.BucketValid, rows, false, func(row, _ models.UploadRow) models.UploadRow {
			return row
		})
	})
}

// UploadError re-validates the selected error rows and creates jobs for the
// ones that now pass. Rows that still fail are left alone.
func (u *Uploader) UploadError(ctx context.Context, s *Session, selected []int) (*UploadOutcome, error) {
	if _, _, err := u.pick(s, models.BucketError, selected); err != nil {
		return nil, err
	}

	return u.locked(ctx, s, models.BucketError, func() (*UploadOutcome, error) {
		rows, gen, err := u.pick(s, models.BucketError, selected)
		if err != nil {
			return nil, err
		}

		revalidated, err := u.backend.RevalidateRows(ctx, models.RevalidateRequest{
			ColumnMapping: s.ColumnMapping(),
			Rows:          rows,
		})
		if err != nil {
			u.logger.Error("Batch re-validation failed", zap.String("session_id", s.ID), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrRevalidationFailure, err)
		}

		passed, stillInvalid := splitRevalidated(rows, revalidated)
		if len(passed) == 0 {
			u.logger.Info("No rows passed re-validation",
				zap.String("session_id", s.ID), zap.Ints("row_numbers", stillInvalid))
			return &UploadOutcome{
				Bucket:       models.BucketError,
				Submitted:    []int{},
				StillInvalid: stillInvalid,
				CreatedJobs:  []models.CreatedJob{},
				Message:      "No selected rows passed re-validation",
			}, nil
		}

		out, err := u.confirm(ctx, s, gen, models.BucketError, passed, false, func(_, submitted models.UploadRow) models.UploadRow {
			return submitted
		})
		if out != nil {
			out.StillInvalid = stillInvalid
		}
		return out, err
	})
}

// UploadXlsDuplicates keeps the first row per (customer, service,
// pickup_date) key and submits those as valid rows.
func (u *Uploader) UploadXlsDuplicates(ctx context.Context, s *Session, selected []int) (*UploadOutcome, error) {
	if _, _, err := u.pick(s, models.BucketXlsDuplicate, selected); err != nil {
		return nil, err
	}

	return u.locked(ctx, s, models.BucketXlsDuplicate, func() (*UploadOutcome, error) {
		rows, gen, err := u.pick(s, models.BucketXlsDuplicate, selected)
		if err != nil {
			return nil, err
		}

		kept, dropped := dedupeByJobKey(rows)
		out, err := u.confirm(ctx, s, gen, models.BucketXlsDuplicate, forceValid(kept), false, func(_, submitted models.UploadRow) models.UploadRow {
			return submitted
		})
		if out != nil {
			out.Skipped = dropped
		}
		return out, err
	})
}

// UploadDBDuplicates creates jobs the backend flagged as already existing.
// The operator must confirm first; declining sends nothing.
func (u *Uploader) UploadDBDuplicates(ctx context.Context, s *Session, selected []int, confirm ConfirmFunc) (*UploadOutcome, error) {
	rows, _, err := u.pick(s, models.BucketDBDuplicate, selected)
	if err != nil {
		return nil, err
	}
	if confirm == nil || !confirm(ctx, rows) {
		u.logger.Info("Force-create of database duplicates declined",
			zap.String("session_id", s.ID), zap.Ints("row_numbers", rowNumbers(rows)))
		return nil, ErrDBDuplicateNotConfirmed
	}

	return u.locked(ctx, s, models.BucketDBDuplicate, func() (*UploadOutcome, error) {
		rows, gen, err := u.pick(s, models.BucketDBDuplicate, selected)
		if err != nil {
			return nil, err
		}
		return u.confirm(ctx, s, gen, models.BucketDBDuplicate, forceValid(rows), true, func(_, submitted models.UploadRow) models.UploadRow {
			return submitted
		})
	})
}

// pick returns the selected rows of bucket and the generation they were
// read at.
func (u *Uploader) pick(s *Session, bucket models.Bucket, selected []int) ([]models.UploadRow, uint64, error) {
	if s.Stage() != StagePreview {
		return nil, 0, ErrNoPreview
	}
	all, gen := s.snapshotRows()
	rows := selectRows(all, bucket, selected)
	if len(rows) == 0 {
		return nil, 0, ErrNoRowsSelected
	}
	return rows, gen, nil
}

func (u *Uploader) locked(ctx context.Context, s *Session, bucket models.Bucket, fn func() (*UploadOutcome, error)) (*UploadOutcome, error) {
	unlock, err := u.locker.TryLock(ctx, lockKey(u.cfg.Scope, s), u.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.setLoading(bucket)
	defer s.setLoading("")

	return fn()
}

// confirm sends rows to the confirm-upload endpoint and, on success, stores
// the created job ids. merge decides what a created row looks like given its
// current state and the copy that was submitted. The session is untouched
// on failure, and when its rows were replaced after gen the job ids are
// reported but not stored.
func (u *Uploader) confirm(
	ctx context.Context,
	s *Session,
	gen uint64,
	bucket models.Bucket,
	rows []models.UploadRow,
	force bool,
	merge func(current, submitted models.UploadRow) models.UploadRow,
) (*UploadOutcome, error) {
	submitted := rowNumbers(rows)
	log := u.logger.With(
		zap.String("session_id", s.ID),
		zap.String("bucket", string(bucket)),
		zap.Ints("row_numbers", submitted),
		zap.Bool("force_create", force))

	result, err := u.backend.ConfirmUpload(ctx, models.ConfirmUploadRequest{Rows: rows, ForceCreate: force})
	if err == nil && result == nil {
		err = fmt.Errorf("empty response")
	}
	if err != nil {
		log.Error("Confirm upload failed", zap.Error(err))
		wrapped := fmt.Errorf("%w: %w", ErrConfirmUploadFailure, err)
		u.record(ctx, s, bucket, submitted, force, nil, wrapped)
		return nil, wrapped
	}

	byNumber := make(map[int]models.UploadRow, len(rows))
	for _, row := range rows {
		byNumber[row.RowNumber] = row
	}
	jobs := make(map[int]int, len(result.CreatedJobs))
	created := make([]models.CreatedJob, 0, len(result.CreatedJobs))
	for _, job := range result.CreatedJobs {
		if _, ok := byNumber[job.RowNumber]; !ok {
			log.Warn("Backend reported a job for a row that was not submitted", zap.Int("row_number", job.RowNumber))
			continue
		}
		jobs[job.RowNumber] = job.JobID
		created = append(created, job)
	}

	mergeErr := s.updateGeneration(gen, func(current []models.UploadRow) ([]models.UploadRow, error) {
		for i, row := range current {
			jobID, ok := jobs[row.RowNumber]
			if !ok || row.Created() {
				continue
			}
			next := merge(row, byNumber[row.RowNumber]).Clone()
			next.RowNumber = row.RowNumber
			next.IsRejected = row.IsRejected
			next.JobID = &jobID
			current[i] = next
		}
		return current, nil
	})

	out := &UploadOutcome{
		Bucket:         bucket,
		Submitted:      submitted,
		ProcessedCount: result.ProcessedCount,
		SkippedCount:   result.SkippedCount,
		CreatedJobs:    created,
		Message:        result.Message,
		ForceCreate:    force,
	}
	if mergeErr != nil {
		log.Warn("Created jobs not applied to the session rows", zap.Error(mergeErr))
		out.Message = "Jobs were created but the rows were replaced before they could be marked"
	}
	log.Info("Confirm upload succeeded",
		zap.Int("processed_count", out.ProcessedCount),
		zap.Int("skipped_count", out.SkippedCount),
		zap.Int("created", len(created)))
	u.record(ctx, s, bucket, submitted, force, out, nil)
	return out, nil
}

func (u *Uploader) record(ctx context.Context, s *Session, bucket models.Bucket, submitted []int, force bool, out *UploadOutcome, failure error) {
	if u.recorder == nil {
		return
	}

	numbers, _ := json.Marshal(submitted)
	entry := &models.UploadBatchLog{
		ID:          uuid.New(),
		SessionID:   s.ID,
		Bucket:      bucket,
		Submitted:   len(submitted),
		ForceCreate: force,
		Status:      models.UploadBatchSucceeded,
		RowNumbers:  numbers,
		CreatedJobs: []byte("[]"),
		CreatedBy:   s.Owner.Email,
	}
	if out != nil {
		entry.ProcessedCount = out.ProcessedCount
		entry.SkippedCount = out.SkippedCount
		entry.CreatedCount = len(out.CreatedJobs)
		if jobs, err := json.Marshal(out.CreatedJobs); err == nil {
			entry.CreatedJobs = jobs
		}
	}
	if failure != nil {
		entry.Status = models.UploadBatchFailed
		entry.Reason = UserMessage(failure)
	}

	// Record even when the request was cancelled mid-flight.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := u.recorder.RecordBatch(recordCtx, entry); err != nil {
		u.logger.Warn("Failed to record upload batch", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// splitRevalidated pairs the backend's answer with the submitted rows by row
// number, or by position when the backend dropped the numbers.
func splitRevalidated(sent, revalidated []models.UploadRow) (passed []models.UploadRow, stillInvalid []int) {
	byNumber := make(map[int]models.UploadRow, len(revalidated))
	for i, row := range revalidated {
		if row.RowNumber == 0 && i < len(sent) {
			row.RowNumber = sent[i].RowNumber
		}
		byNumber[row.RowNumber] = row
	}

	stillInvalid = []int{}
	for _, orig := range sent {
		row, ok := byNumber[orig.RowNumber]
		if !ok || !row.IsValid {
			stillInvalid = append(stillInvalid, orig.RowNumber)
			continue
		}
		merged := mergeValidated(orig, row)
		merged.DuplicateKind = models.DuplicateNone
		merged.ErrorMessage = ""
		merged.IsValid = true
		passed = append(passed, merged)
	}
	return passed, stillInvalid
}

func jobKey(row models.UploadRow) string {
	return strings.TrimSpace(row.Customer) + "|" + strings.TrimSpace(row.Service) + "|" + strings.TrimSpace(row.PickupDate)
}

// dedupeByJobKey keeps the first row, in row-number order, for each key.
func dedupeByJobKey(rows []models.UploadRow) (kept []models.UploadRow, dropped []int) {
	seen := make(map[string]struct{}, len(rows))
	dropped = []int{}
	for _, row := range rows {
		key := jobKey(row)
		if _, dup := seen[key]; dup {
			dropped = append(dropped, row.RowNumber)
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	return kept, dropped
}

func forceValid(rows []models.UploadRow) []models.UploadRow {
	out := models.CloneRows(rows)
	for i := range out {
		out[i].IsValid = true
		out[i].ErrorMessage = ""
		out[i].DuplicateKind = models.DuplicateNone
	}
	return out
}
