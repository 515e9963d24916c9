package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/i5heu/cipherledger/pkg/fhe"
	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

const (
	// IndexKey holds the JSON array of all transaction ids.
	IndexKey = "transaction_keys"
	// RecordPrefix prefixes each per-transaction record key.
	RecordPrefix = "transaction_"
)

// Store is the external key-value collaborator. Get returns
// empty bytes for an absent key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Swapper is implemented by stores that can read, check and
// write one key atomically. fn receives the current value and
// returns the replacement; an error from fn aborts the write
// and is returned unchanged.
type Swapper interface {
	Swap(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}

// Scanner is implemented by stores that can list keys by
// prefix.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// RecordKey returns the store key of transaction id.
func RecordKey(id string) string {
	return RecordPrefix + id
}

// IDFromRecordKey is the inverse of RecordKey. It reports
// false for the index key and foreign keys.
func IDFromRecordKey(key string) (string, bool) {
	if key == IndexKey {
		return "", false
	}
	id, ok := strings.CutPrefix(key, RecordPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ValidateID rejects ids that would collide with the index key
// or cannot be stored.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty transaction id", ledgererr.ErrInvalidInput)
	case RecordKey(id) == IndexKey:
		return fmt.Errorf("%w: transaction id %q is reserved", ledgererr.ErrInvalidInput, id)
	case strings.ContainsAny(id, "\x00\n"):
		return fmt.Errorf("%w: transaction id contains control characters", ledgererr.ErrInvalidInput)
	}
	return nil
}

// record is the persisted JSON shape of a transaction. The id
// lives in the key, not the record.
type record struct {
	Amount    fhe.EncodedValue `json:"amount"`
	Sender    string           `json:"sender"`
	Receiver  string           `json:"receiver"`
	Timestamp int64            `json:"timestamp"`
	Status    string           `json:"status"`
	AMLCheck  bool             `json:"amlCheck"`
}

// MarshalRecord serializes tx for storage under RecordKey.
func MarshalRecord(tx Transaction) ([]byte, error) {
	return json.Marshal(record{
		Amount:    tx.Amount,
		Sender:    string(tx.Sender),
		Receiver:  string(tx.Receiver),
		Timestamp: tx.CreatedAt.Unix(),
		Status:    string(tx.Status),
		AMLCheck:  tx.AMLChecked,
	})
}

// UnmarshalRecord parses a stored record of transaction id.
func UnmarshalRecord(id string, data []byte) (Transaction, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Transaction{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	status, err := ParseStatus(r.Status)
	if err != nil {
		return Transaction{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return Transaction{
		ID:         id,
		Amount:     r.Amount,
		Sender:     Address(r.Sender),
		Receiver:   Address(r.Receiver),
		CreatedAt:  time.Unix(r.Timestamp, 0),
		Status:     status,
		AMLChecked: r.AMLCheck,
	}, nil
}

// MarshalIndex serializes the id index.
func MarshalIndex(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// UnmarshalIndex parses the id index. Empty input is an empty
// index.
func UnmarshalIndex(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return ids, nil
}
