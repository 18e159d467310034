package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fleet-console-backend/db/models"
	"fleet-console-backend/utils"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Queue: "reports"}, nil
}

type sentMail struct {
	to, subject, message, attachment string
}

type emailLogs struct {
	logs []*models.EmailLog
}

func (e *emailLogs) LogEmailSent(_ context.Context, log *models.EmailLog) error {
	e.logs = append(e.logs, log)
	return nil
}

func samplePayload() ErrorReportPayload {
	return ErrorReportPayload{
		SessionID:  "s1",
		Recipient:  "ops@example.com",
		FileName:   "jobs.xlsx",
		SheetOrder: []string{"Errors"},
		Sheets: map[string][]models.UploadRow{
			"Errors": {{RowNumber: 2, ErrorMessage: "Unknown customer"}, {RowNumber: 3, ErrorMessage: "Bad date"}},
		},
		RequestedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestReportQueueEnqueue(t *testing.T) {
	client := &fakeEnqueuer{}
	q := NewReportQueue(client, "reports")

	id, err := q.Enqueue(context.Background(), samplePayload())
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)

	require.Len(t, client.tasks, 1)
	assert.Equal(t, TypeErrorReport, client.tasks[0].Type())

	var decoded ErrorReportPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &decoded))
	assert.Equal(t, "ops@example.com", decoded.Recipient)
	assert.Len(t, decoded.Sheets["Errors"], 2)
}

func TestReportQueueEnqueueFailure(t *testing.T) {
	q := NewReportQueue(&fakeEnqueuer{err: errors.New("redis down")}, "")
	_, err := q.Enqueue(context.Background(), samplePayload())
	assert.ErrorContains(t, err, "redis down")
}

func TestErrorReportHandlerSendsWorkbook(t *testing.T) {
	previous := utils.ReportDir
	utils.ReportDir = filepath.Join(t.TempDir(), "files")
	t.Cleanup(func() { utils.ReportDir = previous })

	var sent []sentMail
	send := func(to, subject, message, attachment string) error {
		sent = append(sent, sentMail{to, subject, message, attachment})
		return nil
	}
	logs := &emailLogs{}
	h := NewErrorReportHandler(send, logs, nil)

	task, err := NewErrorReportTask(samplePayload())
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	require.Len(t, sent, 1)
	assert.Equal(t, "ops@example.com", sent[0].to)
	assert.Equal(t, "Job Upload Errors - 2024-03-01 09:30:00", sent[0].subject)
	assert.Contains(t, sent[0].message, "2 rows")
	assert.FileExists(t, sent[0].attachment)

	require.Len(t, logs.logs, 1)
	assert.Equal(t, sent[0].attachment, logs.logs[0].AttachmentPath)
}

func TestErrorReportHandlerSkipsBadTasks(t *testing.T) {
	h := NewErrorReportHandler(func(string, string, string, string) error {
		t.Fatal("no mail expected")
		return nil
	}, nil, nil)

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeErrorReport, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	p := samplePayload()
	p.Recipient = ""
	task, err := NewErrorReportTask(p)
	require.NoError(t, err)
	assert.ErrorIs(t, h.ProcessTask(context.Background(), task), asynq.SkipRetry)
}

func TestErrorReportHandlerRetriesSendFailure(t *testing.T) {
	previous := utils.ReportDir
	utils.ReportDir = filepath.Join(t.TempDir(), "files")
	t.Cleanup(func() { utils.ReportDir = previous })

	logs := &emailLogs{}
	h := NewErrorReportHandler(func(string, string, string, string) error {
		return errors.New("smtp refused")
	}, logs, nil)

	task, err := NewErrorReportTask(samplePayload())
	require.NoError(t, err)

	err = h.ProcessTask(context.Background(), task)
	assert.ErrorContains(t, err, "smtp refused")
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, logs.logs)
}
