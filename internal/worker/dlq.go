package worker

// dlq.go: print entries that used up PRINT_MAX_ATTEMPTS are copied to a
// Redis list for manual inspection. The row keeps status failed with
// dead_lettered=true; an operator requeue gives it a fresh budget.

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

const DLQKey = "dlq:print_queue"

// DLQEntry is the JSON stored in the dead letter list.
type DLQEntry struct {
	EntryID   int64  `json:"entry_id"`
	PrintType string `json:"print_type"`
	CommandID string `json:"command_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Reason    string `json:"reason"`
	Attempts  int    `json:"attempts"`
	FailedAt  string `json:"failed_at"` // RFC 3339
}

// SendToDLQ pushes a dead-lettered print entry onto the DLQ list.
func SendToDLQ(ctx context.Context, rdb *redis.Client, e model.PrintQueueEntry) error {
	entry := DLQEntry{
		EntryID:   e.ID,
		PrintType: e.PrintType,
		Attempts:  e.Attempts,
		FailedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if e.CommandID != nil {
		entry.CommandID = e.CommandID.String()
	}
	if e.OrderID != nil {
		entry.OrderID = e.OrderID.String()
	}
	if e.LastError != nil {
		entry.Reason = *e.LastError
	}
	if e.FailedAt != nil {
		entry.FailedAt = e.FailedAt.UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := rdb.LPush(ctx, DLQKey, data).Err(); err != nil {
		return err
	}

	log.Warn().
		Int64("entry_id", e.ID).
		Str("print_type", e.PrintType).
		Str("reason", entry.Reason).
		Int("attempts", e.Attempts).
		Msg("dlq: print entry moved to dead letter queue")
	return nil
}

// DLQLength returns the number of entries in the DLQ for monitoring.
func DLQLength(ctx context.Context, rdb *redis.Client) (int64, error) {
	return rdb.LLen(ctx, DLQKey).Result()
}

// ListDLQ returns up to limit entries, newest first.
func ListDLQ(ctx context.Context, rdb *redis.Client, limit int64) ([]DLQEntry, error) {
	raw, err := rdb.LRange(ctx, DLQKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DLQEntry, 0, len(raw))
	for _, r := range raw {
		var e DLQEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			log.Error().Err(err).Msg("dlq: skipping malformed entry")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
