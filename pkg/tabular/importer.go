package tabular

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/common/models"
	"github.com/dentage-research/platform/pkg/observability/metrics"
	"github.com/dentage-research/platform/pkg/registry"
)

// importRow is one parsed spreadsheet row. Two layouts are accepted:
// the simple four column form (id, name, actual age, sex) and the full
// ten column export form, where actual age sits in the last column and
// the blinding codes ride along.
type importRow struct {
	PatientID string
	Name      string
	ActualAge float64
	Sex       string
	CodeA     *string
	CodeB     *string
}

// PatientStore is the slice of the registry the importer and exporter need.
type PatientStore interface {
	Create(ctx context.Context, input registry.CreatePatientInput) (models.Patient, error)
	List(ctx context.Context, search string, limit, offset int) ([]models.Patient, int64, error)
	Renumber(ctx context.Context) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	patients PatientStore
	events   EventPublisher
	fetch    ImageFetcher
}

func NewService(patients PatientStore, events EventPublisher, fetch ImageFetcher) *Service {
	return &Service{patients: patients, events: events, fetch: fetch}
}

// ImportCSV reads patient rows from a headed CSV stream. Rows whose
// identifier already exists are skipped, not overwritten.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (models.ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	// Header row
	if _, err := reader.Read(); err != nil && !errors.Is(err, io.EOF) {
		return models.ImportResult{}, err
	}

	var rows []importRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.ImportResult{}, err
		}
		if row, ok := parseRecord(record); ok {
			rows = append(rows, row)
		}
	}
	return s.insert(ctx, rows)
}

// ImportXLSX reads patient rows from the first sheet of a workbook.
func (s *Service) ImportXLSX(ctx context.Context, r io.Reader) (models.ImportResult, error) {
	workbook, err := excelize.OpenReader(r)
	if err != nil {
		return models.ImportResult{}, err
	}
	defer workbook.Close()

	records, err := workbook.GetRows(workbook.GetSheetName(0))
	if err != nil {
		return models.ImportResult{}, err
	}

	var rows []importRow
	for i, record := range records {
		if i == 0 {
			continue
		}
		if row, ok := parseRecord(record); ok {
			rows = append(rows, row)
		}
	}
	return s.insert(ctx, rows)
}

func (s *Service) insert(ctx context.Context, rows []importRow) (models.ImportResult, error) {
	var result models.ImportResult
	for _, row := range rows {
		_, err := s.patients.Create(ctx, registry.CreatePatientInput{
			PatientID: row.PatientID,
			Name:      row.Name,
			ActualAge: row.ActualAge,
			Sex:       row.Sex,
			CodeA:     row.CodeA,
			CodeB:     row.CodeB,
		})
		if errors.Is(err, registry.ErrDuplicatePatientID) {
			result.Skipped++
			continue
		}
		if err != nil {
			return result, err
		}
		result.Added++
	}

	metrics.AddImportRows(result.Added, result.Skipped)
	if result.Added > 0 {
		// Imported identifiers join the dense sequence like manual entries.
		if err := s.patients.Renumber(ctx); err != nil {
			return result, err
		}
	}
	if s.events != nil && result.Added > 0 {
		if err := s.events.PublishEvent(ctx, models.EventPatientsImported, "study-service", map[string]interface{}{
			"added":   result.Added,
			"skipped": result.Skipped,
		}); err != nil {
			logger.Log.WithError(err).Warn("failed to publish import event")
		}
	}
	return result, nil
}

func parseRecord(record []string) (importRow, bool) {
	if len(record) < 4 {
		return importRow{}, false
	}

	row := importRow{
		PatientID: strings.TrimSpace(record[0]),
		Name:      strings.TrimSpace(record[1]),
		ActualAge: parseAge(record[2]),
		Sex:       strings.TrimSpace(record[3]),
	}
	if len(record) >= 10 {
		row.ActualAge = parseAge(record[9])
		row.CodeA = optionalCode(record[5])
		row.CodeB = optionalCode(record[6])
	}
	if row.PatientID == "" {
		return importRow{}, false
	}
	return row, true
}

func parseAge(raw string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return value
}

func optionalCode(raw string) *string {
	code := strings.TrimSpace(raw)
	if code == "" {
		return nil
	}
	return &code
}
