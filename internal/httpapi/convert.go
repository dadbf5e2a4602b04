package httpapi

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

// ── Scan ─────────────────────────────────────────────────────────────────────

func scanRequestFromProto(p *wrapperspb.StringValue) types.ScanRequest {
	return types.ScanRequest{Payload: p.GetValue()}
}

// scanResponseToProto mirrors the JSON field names of types.ScanResponse.
func scanResponseToProto(r types.ScanResponse) (*structpb.Struct, error) {
	fields := map[string]any{
		"ok":      r.OK,
		"outcome": string(r.Outcome),
		"message": r.Message,
	}
	if r.Record != nil {
		fields["record"] = map[string]any{
			"studentId":   r.Record.StudentID,
			"studentName": r.Record.StudentName,
			"timestamp":   r.Record.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}
	return structpb.NewStruct(fields)
}
