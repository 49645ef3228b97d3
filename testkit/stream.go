package testkit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/theory-cloud/redrive"
)

// MemoryStream is an in-memory StreamSource with decimal offsets as sequences.
//
// The empty sequence means offset 0. A batch read at offset n holds records n..n+k-1 and
// has NextSequence n+k.
type MemoryStream struct {
	mu      sync.Mutex
	shards  map[string][]redrive.Record
	reads   map[string]int
	readErr map[string][]error
}

var (
	_ redrive.StreamSource = (*MemoryStream)(nil)
	_ redrive.ShardLister  = (*MemoryStream)(nil)
)

func NewMemoryStream() *MemoryStream {
	return &MemoryStream{
		shards:  map[string][]redrive.Record{},
		reads:   map[string]int{},
		readErr: map[string][]error{},
	}
}

// Append adds records to the end of a shard.
func (s *MemoryStream) Append(shardID string, records ...redrive.Record) *MemoryStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards[shardID] = append(s.shards[shardID], records...)
	return s
}

// FailNextRead makes the next reads of shardID return errs in order.
func (s *MemoryStream) FailNextRead(shardID string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr[shardID] = append(s.readErr[shardID], errs...)
}

// Reads counts ReadBatch calls that reached the shard.
func (s *MemoryStream) Reads(shardID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[shardID]
}

func (s *MemoryStream) ListShards(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.shards))
	for id := range s.shards {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStream) ReadBatch(ctx context.Context, shardID, from string, max int) (redrive.Batch, bool, error) {
	if err := ctx.Err(); err != nil {
		return redrive.Batch{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads[shardID]++
	if errs := s.readErr[shardID]; len(errs) > 0 {
		s.readErr[shardID] = errs[1:]
		return redrive.Batch{}, false, errs[0]
	}

	offset, err := ParseOffset(from)
	if err != nil {
		return redrive.Batch{}, false, err
	}
	records := s.shards[shardID]
	if offset >= len(records) {
		return redrive.Batch{}, false, nil
	}
	end := len(records)
	if max > 0 && offset+max < end {
		end = offset + max
	}
	return redrive.Batch{
		ShardID:       shardID,
		StartSequence: Offset(offset),
		NextSequence:  Offset(end),
		Records:       append([]redrive.Record(nil), records[offset:end]...),
	}, true, nil
}

// Offset renders a stream offset as a sequence.
func Offset(n int) string {
	return strconv.Itoa(n)
}

func ParseOffset(seq string) (int, error) {
	seq = strings.TrimSpace(seq)
	if seq == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(seq)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("testkit: invalid sequence %q", seq)
	}
	return n, nil
}
