package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/payload"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

// MalformedMessage is the status line shown for a payload that is not
// "studentId:studentName".
const MalformedMessage = "Invalid QR code format. Expected 'studentId:studentName'"

// ScanService turns a raw QR payload into an attendance record.
type ScanService struct {
	book   *Book
	logger *slog.Logger
}

func NewScanService(book *Book, logger *slog.Logger) *ScanService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanService{book: book, logger: logger}
}

// Process parses raw and adds it to the book. Malformed and duplicate scans
// return a populated response together with an error wrapping
// payload.ErrMalformed or ErrDuplicate; neither changes state.
func (s *ScanService) Process(ctx context.Context, raw string) (types.ScanResponse, error) {
	p, err := payload.Parse(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "malformed payload", "error", err)
		return types.ScanResponse{
			OK:      false,
			Outcome: types.OutcomeMalformed,
			Message: MalformedMessage,
		}, err
	}

	rec, err := s.book.Add(ctx, types.AttendanceRecord{
		StudentID:   p.StudentID,
		StudentName: p.StudentName,
	})
	switch {
	case errors.Is(err, ErrDuplicate):
		s.logger.InfoContext(ctx, "duplicate scan", "student_id", p.StudentID)
		return types.ScanResponse{
			OK:      false,
			Outcome: types.OutcomeDuplicate,
			Message: fmt.Sprintf("%s (%s) already marked present today.", p.StudentName, p.StudentID),
			Record:  &rec,
		}, err
	case err != nil:
		return types.ScanResponse{}, err
	}

	s.logger.InfoContext(ctx, "attendance recorded", "student_id", rec.StudentID, "student_name", rec.StudentName)
	return types.ScanResponse{
		OK:      true,
		Outcome: types.OutcomeRecorded,
		Message: fmt.Sprintf("Attendance marked for %s (%s)", rec.StudentName, rec.StudentID),
		Record:  &rec,
	}, nil
}
