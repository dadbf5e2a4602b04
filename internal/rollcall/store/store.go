package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

// Key is the fixed storage key the attendance list lives under.
const Key = "attendanceData"

// Persister durably stores the complete attendance list under Key.
// Save always receives the full set; backends overwrite rather than append.
// Load returns an empty slice when nothing has been saved yet.
type Persister interface {
	Load(ctx context.Context) ([]types.AttendanceRecord, error)
	Save(ctx context.Context, records []types.AttendanceRecord) error
}

// Encode renders records as the JSON array stored under Key. A nil slice
// encodes as [] so a cleared store is distinguishable from a missing key.
func Encode(records []types.AttendanceRecord) ([]byte, error) {
	if records == nil {
		records = []types.AttendanceRecord{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", Key, err)
	}
	return b, nil
}

// Decode parses a stored JSON array. Empty input decodes to an empty list.
func Decode(b []byte) ([]types.AttendanceRecord, error) {
	if len(b) == 0 {
		return []types.AttendanceRecord{}, nil
	}
	var records []types.AttendanceRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", Key, err)
	}
	if records == nil {
		records = []types.AttendanceRecord{}
	}
	return records, nil
}
