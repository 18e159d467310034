package services

import (
	"strings"
	"sync"
	"time"

	"fleet-console-backend/db/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage is the page state of an upload session.
type Stage string

const (
	StageUpload  Stage = "upload"
	StagePreview Stage = "preview"
)

// Session is one operator page working through a bulk upload. The row slice
// is never modified in place: every mutation builds a new slice and swaps it
// in, so readers always see a consistent snapshot.
type Session struct {
	ID        string
	Owner     models.Principal
	CreatedAt time.Time

	mu            sync.RWMutex
	stage         Stage
	fileName      string
	rows          []models.UploadRow
	columnMapping map[string]string
	validCount    int
	errorCount    int
	edits         map[int]models.UploadRow
	loading       models.Bucket
	lastActivity  time.Time
	// generation changes whenever the row set is replaced wholesale.
	generation    uint64
}

func newSession(owner models.Principal, now time.Time) *Session {
	return &Session{
		ID:           uuid.New().String(),
		Owner:        owner,
		CreatedAt:    now,
		stage:        StageUpload,
		edits:        make(map[int]models.UploadRow),
		lastActivity: now,
	}
}

// NewSession creates a session that is not tracked by any manager.
func NewSession(owner models.Principal) *Session {
	return newSession(owner, time.Now())
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	ID              string             `json:"id"`
	Stage           Stage              `json:"stage"`
	FileName        string             `json:"file_name,omitempty"`
	Rows            []models.UploadRow `json:"rows"`
	ValidCount      int                `json:"valid_count"`
	ErrorCount      int                `json:"error_count"`
	ColumnMapping   map[string]string  `json:"column_mapping,omitempty"`
	Editing         []int              `json:"editing"`
	LoadingCategory models.Bucket      `json:"loading_category,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	editing := make([]int, 0, len(s.edits))
	for n := range s.edits {
		editing = append(editing, n)
	}

	return Snapshot{
		ID:              s.ID,
		Stage:           s.stage,
		FileName:        s.fileName,
		Rows:            models.CloneRows(s.rows),
		ValidCount:      s.validCount,
		ErrorCount:      s.errorCount,
		ColumnMapping:   copyMapping(s.columnMapping),
		Editing:         editing,
		LoadingCategory: s.loading,
	}
}

// Stage reports whether the session is waiting for a file or showing a preview.
func (s *Session) Stage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// Rows returns a copy of the current rows.
func (s *Session) Rows() []models.UploadRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneRows(s.rows)
}

// Row returns a copy of one row.
func (s *Session) Row(rowNumber int) (models.UploadRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if row.RowNumber == rowNumber {
			return row.Clone(), true
		}
	}
	return models.UploadRow{}, false
}

// ColumnMapping returns a copy of the header-to-field mapping of the preview.
func (s *Session) ColumnMapping() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMapping(s.columnMapping)
}

// LoadingCategory is the bucket currently being submitted, "" when idle.
func (s *Session) LoadingCategory() models.Bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Session) setLoading(bucket models.Bucket) {
	s.mu.Lock()
	s.loading = bucket
	s.mu.Unlock()
}

// LoadPreview replaces everything the session knew with a fresh parse result.
func (s *Session) LoadPreview(fileName string, preview *models.PreviewData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fileName = fileName
	s.rows = models.CloneRows(preview.Rows)
	if s.rows == nil {
		s.rows = []models.UploadRow{}
	}
	s.columnMapping = copyMapping(preview.ColumnMapping)
	s.validCount = preview.ValidCount
	s.errorCount = preview.ErrorCount
	s.edits = make(map[int]models.UploadRow)
	s.stage = StagePreview
	s.generation++
	s.lastActivity = time.Now()
}

// Reset discards the rows and returns the page to file selection.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fileName = ""
	s.rows = nil
	s.columnMapping = nil
	s.validCount = 0
	s.errorCount = 0
	s.edits = make(map[int]models.UploadRow)
	s.stage = StageUpload
	s.generation++
	s.lastActivity = time.Now()
}

// update applies fn to a private copy of the rows and installs the result.
// On error the session keeps its previous rows.
func (s *Session) update(fn func(rows []models.UploadRow) ([]models.UploadRow, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(models.CloneRows(s.rows))
	if err != nil {
		return err
	}
	s.rows = next
	s.lastActivity = time.Now()
	return nil
}

// snapshotRows returns a copy of the rows together with their generation.
func (s *Session) snapshotRows() ([]models.UploadRow, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneRows(s.rows), s.generation
}

// updateGeneration is update for rows read at generation gen. It fails with
// ErrSessionReplaced when the rows were reset or reloaded since.
func (s *Session) updateGeneration(gen uint64, fn func(rows []models.UploadRow) ([]models.UploadRow, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return ErrSessionReplaced
	}
	next, err := fn(models.CloneRows(s.rows))
	if err != nil {
		return err
	}
	s.rows = next
	s.lastActivity = time.Now()
	return nil
}

func (s *Session) editBuffer(rowNumber int) (models.UploadRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.edits[rowNumber]
	if !ok {
		return models.UploadRow{}, false
	}
	return row.Clone(), true
}

func (s *Session) setEditBuffer(row models.UploadRow) {
	s.mu.Lock()
	s.edits[row.RowNumber] = row.Clone()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) dropEditBuffer(rowNumber int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.edits[rowNumber]
	delete(s.edits, rowNumber)
	return ok
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func copyMapping(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SessionManager keeps upload sessions in memory. Nothing survives a restart.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	idleTTL  time.Duration
	onEvict  []func(sessionID string)
	logger   *zap.Logger
}

func NewSessionManager(idleTTL time.Duration, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		logger:   logger,
	}
}

// OnEvict registers a callback run whenever a session is removed.
func (m *SessionManager) OnEvict(fn func(sessionID string)) {
	m.mu.Lock()
	m.onEvict = append(m.onEvict, fn)
	m.mu.Unlock()
}

// Create starts an empty session owned by owner.
func (m *SessionManager) Create(owner models.Principal) *Session {
	s := newSession(owner, time.Now())

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("Upload session created", zap.String("session_id", s.ID), zap.String("owner", owner.Email))
	return s
}

// Get returns the session if it exists and belongs to principal. Sessions of
// other operators are reported as not found.
func (m *SessionManager) Get(id string, principal models.Principal) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok || !strings.EqualFold(s.Owner.Email, principal.Email) {
		return nil, ErrSessionNotFound
	}
	s.touch()
	return s, nil
}

// Delete removes a session of principal and runs the evict callbacks.
func (m *SessionManager) Delete(id string, principal models.Principal) error {
	if _, err := m.Get(id, principal); err != nil {
		return err
	}
	m.remove(id)
	return nil
}

func (m *SessionManager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	callbacks := append([]func(string){}, m.onEvict...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(id)
	}
}

// Len is the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SweepIdle removes sessions idle for longer than the TTL and reports how many
// went. Sessions with an upload in flight are kept.
func (m *SessionManager) SweepIdle() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) && s.LoadingCategory() == "" {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.remove(id)
	}
	if len(expired) > 0 {
		m.logger.Info("Evicted idle upload sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}
