package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/rs/zerolog"
)

// ErrCorruptRecords is returned when stored knowledge-base payloads no longer
// decode or disagree with their indexed columns.
var ErrCorruptRecords = errors.New("corrupt knowledge base records")

// DatabaseChecker is the part of database.DB the health job needs.
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
	WALCheckpoint(mode string) error
}

// RecordVerifier is the part of knowledgebase.Repository the health job needs.
type RecordVerifier interface {
	Verify() ([]string, error)
	CountByStatus() (map[knowledgebase.Status]int, error)
}

// HealthReport is the outcome of the last knowledge-base check.
type HealthReport struct {
	CheckedAt   time.Time                    `json:"checked_at"`
	Counts      map[knowledgebase.Status]int `json:"counts,omitempty"`
	Error       string                       `json:"error,omitempty"`
	BrokenISINs []string                     `json:"broken_isins,omitempty"`
	Healthy     bool                         `json:"healthy"`
}

// KBHealthCheckJob verifies the knowledge-base database and its records
type KBHealthCheckJob struct {
	db      DatabaseChecker
	records RecordVerifier
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu   sync.RWMutex
	last *HealthReport
}

// NewKBHealthCheckJob creates a new KBHealthCheckJob
func NewKBHealthCheckJob(db DatabaseChecker, records RecordVerifier, log zerolog.Logger) *KBHealthCheckJob {
	return &KBHealthCheckJob{
		db:      db,
		records: records,
		timeout: 30 * time.Second,
		now:     time.Now,
		log:     log.With().Str("job", "kb_health_check").Logger(),
	}
}

// Name returns the job name
func (j *KBHealthCheckJob) Name() string {
	return "kb_health_check"
}

// Run checks database integrity, checkpoints the WAL and decodes every stored
// record. The outcome is kept for LastReport.
func (j *KBHealthCheckJob) Run() error {
	report := HealthReport{CheckedAt: j.now().UTC()}
	err := j.check(&report)
	report.Healthy = err == nil
	if err != nil {
		report.Error = err.Error()
	}

	j.mu.Lock()
	j.last = &report
	j.mu.Unlock()

	if err != nil {
		return err
	}
	j.log.Info().Interface("counts", report.Counts).Msg("Knowledge base healthy")
	return nil
}

func (j *KBHealthCheckJob) check(report *HealthReport) error {
	if j.db == nil || j.records == nil {
		return fmt.Errorf("knowledge base not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.db.HealthCheck(ctx); err != nil {
		return err
	}
	if err := j.db.WALCheckpoint("PASSIVE"); err != nil {
		// A busy checkpoint is retried on the next run.
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	broken, err := j.records.Verify()
	if err != nil {
		return err
	}
	counts, err := j.records.CountByStatus()
	if err != nil {
		return err
	}
	report.Counts = counts
	report.BrokenISINs = broken
	if len(broken) > 0 {
		j.log.Warn().Strs("isins", broken).Msg("Knowledge base records failed verification")
		return fmt.Errorf("%d records: %w", len(broken), ErrCorruptRecords)
	}
	return nil
}

// LastReport returns the most recent report, or nil before the first run.
func (j *KBHealthCheckJob) LastReport() *HealthReport {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.last == nil {
		return nil
	}
	report := *j.last
	return &report
}
