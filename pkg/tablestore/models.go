package tablestore

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultStateTable   = "redrive-state"
	defaultRecordsTable = "redrive-records"

	checkpointSortKey = "CHECKPOINT"
	attemptSortPrefix = "ATTEMPT#"
	recordSortKey     = "RECORD"
)

// StateItem holds pipeline bookkeeping in one table.
//
// Storage key shape:
//   - checkpoint: PK SHARD#{shard}, SK CHECKPOINT
//   - attempt:    PK SHARD#{shard}, SK ATTEMPT#{start_sequence}
type StateItem struct {
	PK string `theorydb:"pk,attr:pk" json:"pk"`
	SK string `theorydb:"sk,attr:sk" json:"sk"`

	ShardID  string `json:"shard_id"`
	Sequence string `json:"sequence"`

	AttemptCount   int       `json:"attempt_count,omitempty"`
	FirstAttemptAt time.Time `json:"first_attempt_at,omitempty"`
	FailureCode    string    `json:"failure_code,omitempty" theorydb:"omitempty"`
	FailureMessage string    `json:"failure_message,omitempty" theorydb:"omitempty"`
	FailingIndex   int       `json:"failing_index,omitempty"`
	HasFailure     bool      `json:"has_failure,omitempty"`
	EnvelopeID     string    `json:"envelope_id,omitempty" theorydb:"omitempty"`
	Resolution     string    `json:"resolution,omitempty" theorydb:"omitempty"`

	UpdatedAt time.Time `theorydb:"updated_at" json:"updated_at"`
	TTL       int64     `theorydb:"ttl,omitempty" json:"ttl,omitempty"`
}

func (StateItem) TableName() string {
	return tableNameFromEnv(defaultStateTable, "REDRIVE_STATE_TABLE_NAME", "STATE_TABLE_NAME")
}

func shardPK(shardID string) string {
	return fmt.Sprintf("SHARD#%s", shardID)
}

func attemptSK(sequence string) string {
	return attemptSortPrefix + sequence
}

// RecordItem is one ingested record. Body is the record's JSON encoding so field order
// survives the round trip.
type RecordItem struct {
	PK string `theorydb:"pk,attr:pk" json:"pk"`
	SK string `theorydb:"sk,attr:sk" json:"sk"`

	ID     string `json:"id"`
	Body   string `json:"body"`
	Source string `json:"source,omitempty" theorydb:"omitempty"`

	CreatedAt time.Time `theorydb:"created_at" json:"created_at"`
}

func (RecordItem) TableName() string {
	return tableNameFromEnv(defaultRecordsTable, "REDRIVE_RECORDS_TABLE_NAME", "RECORDS_TABLE_NAME")
}

func recordPK(id string) string {
	return "RECORD#" + id
}

func tableNameFromEnv(fallback string, keys ...string) string {
	for _, key := range keys {
		if name := strings.TrimSpace(os.Getenv(key)); name != "" {
			return name
		}
	}
	return fallback
}
