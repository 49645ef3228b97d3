package tablestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	tableerrors "github.com/theory-cloud/tabletheory/pkg/errors"
	tablemocks "github.com/theory-cloud/tabletheory/pkg/mocks"

	"github.com/theory-cloud/redrive"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newQuery() (*tablemocks.MockDB, *tablemocks.MockQuery) {
	db := new(tablemocks.MockDB)
	q := new(tablemocks.MockQuery)
	db.On("Model", mock.Anything).Return(q)
	q.On("WithContext", mock.Anything).Return(q)
	q.On("Where", mock.Anything, mock.Anything, mock.Anything).Return(q)
	return db, q
}

func TestCheckpointStore_GetMissing(t *testing.T) {
	db, q := newQuery()
	q.On("First", mock.Anything).Return(tableerrors.ErrItemNotFound)

	seq, ok, err := NewCheckpointStore(db, nil).GetCheckpoint(context.Background(), "shard-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "", seq)

	q.AssertCalled(t, "Where", "PK", "=", "SHARD#shard-1")
	q.AssertCalled(t, "Where", "SK", "=", "CHECKPOINT")
}

func TestCheckpointStore_GetExisting(t *testing.T) {
	db, q := newQuery()
	q.On("First", mock.Anything).Run(func(args mock.Arguments) {
		item, ok := args.Get(0).(*StateItem)
		require.True(t, ok)
		item.Sequence = "42"
	}).Return(nil)

	seq, ok, err := NewCheckpointStore(db, nil).GetCheckpoint(context.Background(), " shard-1 ")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "42", seq)
}

func TestCheckpointStore_GetError(t *testing.T) {
	db, q := newQuery()
	boom := errors.New("boom")
	q.On("First", mock.Anything).Return(boom)

	_, _, err := NewCheckpointStore(db, nil).GetCheckpoint(context.Background(), "s")
	require.ErrorIs(t, err, boom)
}

func TestCheckpointStore_Set(t *testing.T) {
	db, q := newQuery()
	ub := new(tablemocks.MockUpdateBuilder)
	q.On("UpdateBuilder").Return(ub)
	ub.On("Set", "ShardID", "shard-1").Return(ub)
	ub.On("Set", "Sequence", "7").Return(ub)
	ub.On("Set", "UpdatedAt", testNow).Return(ub)
	ub.On("Execute").Return(nil)

	store := NewCheckpointStore(db, fixedClock{now: testNow})
	require.NoError(t, store.SetCheckpoint(context.Background(), "shard-1", "7"))

	db.AssertExpectations(t)
	ub.AssertExpectations(t)
}

func TestAttemptStore_LoadMissing(t *testing.T) {
	db, q := newQuery()
	q.On("First", mock.Anything).Return(tableerrors.ErrItemNotFound)

	state, err := NewAttemptStore(db, nil).Load(context.Background(), redrive.AttemptKey{ShardID: "s", StartSequence: "0"})
	require.NoError(t, err)
	require.Nil(t, state)
	q.AssertCalled(t, "Where", "SK", "=", "ATTEMPT#0")
}

func TestAttemptStore_LoadExisting(t *testing.T) {
	db, q := newQuery()
	q.On("First", mock.Anything).Run(func(args mock.Arguments) {
		item := args.Get(0).(*StateItem)
		item.AttemptCount = 2
		item.FirstAttemptAt = testNow
		item.HasFailure = true
		item.FailureCode = redrive.ErrorCodeValidation
		item.FailureMessage = "missing field: value"
		item.FailingIndex = 1
		item.EnvelopeID = "env-1"
		item.Resolution = "dead_letter"
	}).Return(nil)

	key := redrive.AttemptKey{ShardID: "s", StartSequence: "0"}
	state, err := NewAttemptStore(db, nil).Load(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, &redrive.AttemptState{
		Key:            key,
		AttemptCount:   2,
		FirstAttemptAt: testNow,
		LastFailure: &redrive.FailureReason{
			Code:         redrive.ErrorCodeValidation,
			Message:      "missing field: value",
			FailingIndex: 1,
		},
		EnvelopeID: "env-1",
		Resolution: "dead_letter",
	}, state)
}

func TestAttemptStore_SaveWithTTL(t *testing.T) {
	db, q := newQuery()
	ub := new(tablemocks.MockUpdateBuilder)
	q.On("UpdateBuilder").Return(ub)
	ub.On("Set", mock.Anything, mock.Anything).Return(ub)
	ub.On("Execute").Return(nil)

	store := NewAttemptStore(db, fixedClock{now: testNow}, WithAttemptTTL(time.Hour))
	err := store.Save(context.Background(), &redrive.AttemptState{
		Key:            redrive.AttemptKey{ShardID: "s", StartSequence: "0"},
		AttemptCount:   3,
		FirstAttemptAt: testNow,
		LastFailure:    &redrive.FailureReason{Code: redrive.ErrorCodeHandler, Message: "boom", FailingIndex: 0},
		Resolution:     "drop",
	})
	require.NoError(t, err)

	ub.AssertCalled(t, "Set", "AttemptCount", 3)
	ub.AssertCalled(t, "Set", "Resolution", "drop")
	ub.AssertCalled(t, "Set", "HasFailure", true)
	ub.AssertCalled(t, "Set", "FailureMessage", "boom")
	ub.AssertCalled(t, "Set", "TTL", testNow.Add(time.Hour).Unix())
	require.NoError(t, store.Save(context.Background(), nil))
}

func TestAttemptStore_SaveError(t *testing.T) {
	db, q := newQuery()
	ub := new(tablemocks.MockUpdateBuilder)
	q.On("UpdateBuilder").Return(ub)
	ub.On("Set", mock.Anything, mock.Anything).Return(ub)
	boom := errors.New("boom")
	ub.On("Execute").Return(boom)

	err := NewAttemptStore(db, nil).Save(context.Background(), &redrive.AttemptState{})
	require.ErrorIs(t, err, boom)
	ub.AssertNotCalled(t, "Set", "TTL", mock.Anything)
}

func TestAttemptStore_Delete(t *testing.T) {
	db, q := newQuery()
	q.On("Delete").Return(tableerrors.ErrItemNotFound).Once()
	q.On("Delete").Return(errors.New("boom")).Once()

	store := NewAttemptStore(db, nil)
	key := redrive.AttemptKey{ShardID: "s", StartSequence: "9"}
	require.NoError(t, store.Delete(context.Background(), key))
	require.Error(t, store.Delete(context.Background(), key))
}

func TestRecordStore_PutIsIdempotent(t *testing.T) {
	db, q := newQuery()
	q.On("IfNotExists").Return(q)
	q.On("Create").Return(nil).Once()
	q.On("Create").Return(tableerrors.ErrConditionFailed).Once()

	store := NewRecordStore(db, DefaultRecordStoreConfig())
	store.SetClock(fixedClock{now: testNow})

	r := redrive.NewRecord(redrive.Field{Name: "id", Value: "1"}, redrive.Field{Name: "value", Value: 5})
	require.NoError(t, store.Put(context.Background(), r))
	require.NoError(t, store.Put(context.Background(), r))

	item, ok := db.Calls[0].Arguments.Get(0).(*RecordItem)
	require.True(t, ok)
	require.Equal(t, "RECORD#1", item.PK)
	require.Equal(t, `{"id":"1","value":5}`, item.Body)
	require.Equal(t, testNow, item.CreatedAt)
}

func TestRecordStore_RetriesThrottling(t *testing.T) {
	db, q := newQuery()
	q.On("IfNotExists").Return(q)
	q.On("Create").Return(errors.New("ThrottlingException: slow")).Twice()
	q.On("Create").Return(nil).Once()

	store := NewRecordStore(db, RecordStoreConfig{RetryAttempts: 3, RetryBaseDelay: 10 * time.Millisecond})
	var slept []time.Duration
	store.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, store.Put(context.Background(), redrive.NewRecord(redrive.Field{Name: "id", Value: "1"})))
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, slept)
}

func TestRecordStore_StopsOnPermanentError(t *testing.T) {
	db, q := newQuery()
	q.On("IfNotExists").Return(q)
	boom := errors.New("ValidationException: bad key")
	q.On("Create").Return(boom).Once()

	store := NewRecordStore(db, DefaultRecordStoreConfig())
	err := store.Put(context.Background(), redrive.NewRecord(redrive.Field{Name: "id", Value: "1"}))
	require.ErrorIs(t, err, boom)
	q.AssertNumberOfCalls(t, "Create", 1)
}

func TestRecordStore_RequiresID(t *testing.T) {
	store := NewRecordStore(new(tablemocks.MockDB), DefaultRecordStoreConfig())
	require.ErrorIs(t, store.Put(context.Background(), redrive.NewRecord(redrive.Field{Name: "value", Value: 1})), ErrRecordID)
}

func TestTableNames(t *testing.T) {
	require.Equal(t, "redrive-state", StateItem{}.TableName())
	require.Equal(t, "redrive-records", RecordItem{}.TableName())

	t.Setenv("REDRIVE_STATE_TABLE_NAME", "custom-state")
	t.Setenv("RECORDS_TABLE_NAME", "legacy-records")
	require.Equal(t, "custom-state", StateItem{}.TableName())
	require.Equal(t, "legacy-records", RecordItem{}.TableName())
}
