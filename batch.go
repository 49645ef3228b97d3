package redrive

// Batch is the unit of delivery, retry, and dead-lettering: an ordered, non-empty run of
// records read from one shard at one cursor position.
//
// NextSequence is the cursor value once the batch resolves. Sequences are opaque to the
// pipeline and owned by the StreamSource.
type Batch struct {
	ShardID       string   `json:"shard_id"`
	StartSequence string   `json:"start_sequence"`
	NextSequence  string   `json:"next_sequence"`
	Records       []Record `json:"records"`
}

// Key identifies the batch's attempt state.
func (b Batch) Key() AttemptKey {
	return AttemptKey{ShardID: b.ShardID, StartSequence: b.StartSequence}
}

func (b Batch) Len() int {
	return len(b.Records)
}
