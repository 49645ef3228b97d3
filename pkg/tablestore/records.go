package tablestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tablecore "github.com/theory-cloud/tabletheory/pkg/core"
	tableerrors "github.com/theory-cloud/tabletheory/pkg/errors"

	"github.com/theory-cloud/redrive"
)

// ErrRecordID is returned for records without a usable id.
var ErrRecordID = errors.New("tablestore: record id is required")

// RecordStoreConfig tunes conditional-create retries.
type RecordStoreConfig struct {
	RetryAttempts  int
	RetryBaseDelay time.Duration
	Source         string
}

func DefaultRecordStoreConfig() RecordStoreConfig {
	return RecordStoreConfig{
		RetryAttempts:  3,
		RetryBaseDelay: 100 * time.Millisecond,
	}
}

// RecordStore writes ingested records keyed by id. Writing an id twice is a no-op, so a
// re-delivered object is safe to ingest again.
type RecordStore struct {
	db     tablecore.DB
	config RecordStoreConfig
	clock  redrive.Clock
	sleep  func(context.Context, time.Duration) error
}

func NewRecordStore(db tablecore.DB, config RecordStoreConfig) *RecordStore {
	if config.RetryAttempts < 0 {
		config.RetryAttempts = 0
	}
	return &RecordStore{
		db:     db,
		config: config,
		clock:  redrive.RealClock{},
		sleep:  sleepContext,
	}
}

// SetClock overrides the clock used for CreatedAt.
func (s *RecordStore) SetClock(clock redrive.Clock) {
	if clock != nil {
		s.clock = clock
	}
}

func (s *RecordStore) Put(ctx context.Context, record redrive.Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	id := strings.TrimSpace(record.ID())
	if id == "" {
		return ErrRecordID
	}
	body, err := record.MarshalJSON()
	if err != nil {
		return fmt.Errorf("tablestore: encode record %s: %w", id, err)
	}

	item := &RecordItem{
		PK:        recordPK(id),
		SK:        recordSortKey,
		ID:        id,
		Body:      string(body),
		Source:    s.config.Source,
		CreatedAt: s.clock.Now(),
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := s.config.RetryBaseDelay * time.Duration(1<<min(attempt-1, 10))
			if err := s.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := s.db.Model(item).WithContext(ctx).IfNotExists().Create()
		if err == nil || tableerrors.IsConditionFailed(err) {
			return nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}
	return fmt.Errorf("tablestore: put record %s: %w", id, lastErr)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{
		"ProvisionedThroughputExceededException",
		"ThrottlingException",
		"RequestLimitExceeded",
		"ServiceUnavailable",
		"InternalServerError",
		"RequestThrottled",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
