package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-regcode-api/internal/models"
	appErrors "github.com/noah-isme/sma-regcode-api/pkg/errors"
	"github.com/noah-isme/sma-regcode-api/pkg/export"
)

// ExportFormat enumerates supported tabular export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// codeExportHeaders fixes the column order of code exports.
var codeExportHeaders = []string{"Code", "Group", "Created By", "Created At", "Status", "Used By", "Used At"}

type exportCodeStore interface {
	ListForExport(ctx context.Context, filter models.CodeFilter) ([]models.CodeExportRow, error)
}

// ExportResult carries rendered bytes and their media type.
type ExportResult struct {
	Content     []byte
	ContentType string
}

// ExportService turns filtered code queries into tabular documents.
type ExportService struct {
	repo   exportCodeStore
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(repo exportCodeStore, csvExporter *export.CSVExporter, pdfExporter *export.PDFExporter, logger *zap.Logger) *ExportService {
	if csvExporter == nil {
		csvExporter = export.NewCSVExporter()
	}
	if pdfExporter == nil {
		pdfExporter = export.NewPDFExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{repo: repo, csv: csvExporter, pdf: pdfExporter, logger: logger}
}

// Export renders the codes visible to the actor in the requested format.
// Teacher-role actors only ever export their own codes.
func (s *ExportService) Export(ctx context.Context, filter models.CodeFilter, actor *models.JWTClaims, format ExportFormat) (*ExportResult, error) {
	dataset, err := s.Dataset(ctx, filter, actor)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV, "":
		content, err := s.csv.Render(*dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportResult{Content: content, ContentType: "text/csv"}, nil
	case ExportFormatPDF:
		content, err := s.pdf.Render(*dataset, "Registration Codes")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportResult{Content: content, ContentType: "application/pdf"}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

// Dataset builds the tabular projection with the fixed column order.
func (s *ExportService) Dataset(ctx context.Context, filter models.CodeFilter, actor *models.JWTClaims) (*export.Dataset, error) {
	filter = scopeFilter(filter, actor)
	rows, err := s.repo.ListForExport(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load codes for export")
	}

	dataset := &export.Dataset{Headers: codeExportHeaders, Rows: make([]map[string]string, 0, len(rows))}
	for _, row := range rows {
		usedBy := ""
		if row.UsedByName != nil {
			usedBy = *row.UsedByName
		}
		usedAt := ""
		if row.UsedAt != nil {
			usedAt = row.UsedAt.UTC().Format(time.RFC3339)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Code":       row.Code,
			"Group":      row.GroupName,
			"Created By": row.CreatedByName,
			"Created At": row.CreatedAt.UTC().Format(time.RFC3339),
			"Status":     string(row.Status),
			"Used By":    usedBy,
			"Used At":    usedAt,
		})
	}
	return dataset, nil
}
