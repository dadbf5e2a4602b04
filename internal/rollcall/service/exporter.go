package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
)

var ErrNoRecords = errors.New("no attendance records to export")

const (
	SheetName = "Attendance"

	// DisplayLayout renders timestamps the way an en-US browser's
	// toLocaleString does.
	DisplayLayout = "1/2/2006, 3:04:05 PM"
)

var Header = []string{"Student ID", "Name", "Timestamp"}

// Exporter renders the book as an xlsx workbook with a single sheet.
type Exporter struct {
	book   *Book
	fs     afero.Fs
	logger *slog.Logger
}

func NewExporter(book *Book, fsys afero.Fs, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{book: book, fs: fsys, logger: logger}
}

// Table returns the header row followed by one row per record.
func (e *Exporter) Table() ([][]string, error) {
	records := e.book.List()
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	loc := e.book.Location()
	table := make([][]string, 0, len(records)+1)
	table = append(table, append([]string(nil), Header...))
	for _, r := range records {
		table = append(table, []string{
			r.StudentID,
			r.StudentName,
			r.Timestamp.In(loc).Format(DisplayLayout),
		})
	}
	return table, nil
}

// FileName is attendance_<YYYY-MM-DD>.xlsx for the current UTC date.
func (e *Exporter) FileName() string {
	return fmt.Sprintf("attendance_%s.xlsx", e.book.Now().UTC().Format(dayLayout))
}

// Write streams the workbook to w. Nothing is written when the book is empty.
func (e *Exporter) Write(ctx context.Context, w io.Writer) (int64, error) {
	table, err := e.Table()
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return 0, fmt.Errorf("rename sheet: %w", err)
	}

	for i, row := range table {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return 0, err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return 0, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return 0, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetColWidth(SheetName, "A", "C", 24); err != nil {
		return 0, fmt.Errorf("column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return 0, fmt.Errorf("render workbook: %w", err)
	}
	n, err := buf.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("write workbook: %w", err)
	}

	e.logger.DebugContext(ctx, "workbook rendered", "rows", len(table)-1, "size", humanize.Bytes(uint64(n)))
	return n, nil
}

// WriteFile writes FileName() into dir and returns the full path. The
// workbook is rendered in memory first so a failed export leaves no file.
func (e *Exporter) WriteFile(ctx context.Context, dir string) (string, error) {
	var buf bytes.Buffer
	if _, err := e.Write(ctx, &buf); err != nil {
		return "", err
	}

	if err := e.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, e.FileName())
	if err := afero.WriteFile(e.fs, path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	e.logger.InfoContext(ctx, "attendance exported",
		"path", path, "size", humanize.Bytes(uint64(buf.Len())))
	return path, nil
}
