package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/redactor/internal/repository"
)

// Service produces XLSX reports for batches.
type Service struct {
	batches repository.BatchRepository
	files   repository.FileRepository
	logger  *slog.Logger
}

func NewService(batches repository.BatchRepository, files repository.FileRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{batches: batches, files: files, logger: logger}
}

// BatchReportXLSX returns a workbook (as bytes) with one row per file of the batch.
func (s *Service) BatchReportXLSX(ctx context.Context, batchID uuid.UUID) ([]byte, error) {
	start := time.Now()

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	files, err := s.files.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Batch"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"#",
		"Filename",
		"Status",
		"Error",
		"Records",
		"Flagged",
		"Labels",
		"Redacted File",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, file := range files {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, file.Position+1)
		write(2, file.Filename)
		write(3, string(file.Status))
		if file.ErrorMessage != nil {
			write(4, truncate(*file.ErrorMessage, 140))
		} else {
			write(4, "")
		}
		records, flagged, labels := 0, 0, ""
		if file.Payload != nil {
			records = len(file.Payload.Records)
			flagged = len(file.Payload.Flagged())
			labels = formatCounts(file.Payload.LabelCounts())
		}
		write(5, records)
		write(6, flagged)
		write(7, labels)
		if file.RedactedFilename != nil {
			write(8, *file.RedactedFilename)
		} else {
			write(8, "")
		}
		row++
	}

	// Batch summary below the table.
	row++
	summary := [][2]any{
		{"Batch", batch.ID.String()},
		{"Status", batch.Status.API()},
		{"Submitted", batch.CreatedAt.UTC().Format(time.RFC3339)},
	}
	for _, kv := range summary {
		a, _ := excelize.CoordinatesToCellName(1, row)
		b, _ := excelize.CoordinatesToCellName(2, row)
		_ = f.SetCellValue(sheet, a, kv[0])
		_ = f.SetCellValue(sheet, b, kv[1])
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 6)
	_ = f.SetColWidth(sheet, "B", "B", 32) // filename
	_ = f.SetColWidth(sheet, "C", "C", 14) // status
	_ = f.SetColWidth(sheet, "D", "D", 48) // error
	_ = f.SetColWidth(sheet, "E", "F", 10)
	_ = f.SetColWidth(sheet, "G", "G", 40) // labels
	_ = f.SetColWidth(sheet, "H", "H", 36)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"batch_id", batchID.String(),
		"rows", len(files),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// formatCounts renders label counts as "email=2, person=1" in label order.
func formatCounts(counts map[string]int) string {
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%d", l, counts[l]))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
