package tabular

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/common/models"
)

const exportSheet = "Patient Data"

var exportHeaders = []string{
	"ID", "Name", "Age", "Sex", "OPG Image",
	"A code", "D code", "A Age", "D Age", "Actual age",
}

// ImageFetcher retrieves radiograph bytes for embedding. May be nil, in
// which case the image column carries the link text only.
type ImageFetcher func(ctx context.Context, url string) ([]byte, error)

// Export writes the full patient table as a workbook, one row per patient,
// with the radiograph embedded where it can be fetched. Patients are read
// in batches so a large study does not sit in memory twice.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	workbook := excelize.NewFile()
	defer workbook.Close()

	workbook.SetSheetName(workbook.GetSheetName(0), exportSheet)
	if err := workbook.SetColWidth(exportSheet, "A", "J", 15); err != nil {
		return err
	}

	boldStyle, err := workbook.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	for col, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := workbook.SetCellValue(exportSheet, cell, header); err != nil {
			return err
		}
		_ = workbook.SetCellStyle(exportSheet, cell, cell, boldStyle)
	}

	const batchSize = 100
	rowIdx := 2
	for offset := 0; ; offset += batchSize {
		patients, _, err := s.patients.List(ctx, "", batchSize, offset)
		if err != nil {
			return err
		}
		if len(patients) == 0 {
			break
		}
		for _, patient := range patients {
			if err := s.writePatientRow(ctx, workbook, rowIdx, patient); err != nil {
				return err
			}
			rowIdx++
		}
		if len(patients) < batchSize {
			break
		}
	}

	return workbook.Write(w)
}

func (s *Service) writePatientRow(ctx context.Context, workbook *excelize.File, row int, patient models.Patient) error {
	set := func(col int, value interface{}) error {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		return workbook.SetCellValue(exportSheet, cell, value)
	}

	if err := set(1, patient.PatientID); err != nil {
		return err
	}
	_ = set(2, patient.Name)
	_ = set(3, patient.ActualAge)
	_ = set(4, patient.Sex)
	if patient.CodeA != nil {
		_ = set(6, *patient.CodeA)
	}
	if patient.CodeB != nil {
		_ = set(7, *patient.CodeB)
	}
	if patient.AlQahtaniEstimatedAge != nil {
		_ = set(8, *patient.AlQahtaniEstimatedAge)
	}
	if patient.DemirjianEstimatedAge != nil {
		_ = set(9, *patient.DemirjianEstimatedAge)
	}
	_ = set(10, patient.ActualAge)

	if patient.OPGLink == "" {
		return nil
	}
	if s.fetch == nil {
		return set(5, patient.OPGLink)
	}

	data, err := s.fetch(ctx, patient.OPGLink)
	if err != nil {
		logger.Log.WithError(err).WithField("patient_id", patient.PatientID).Warn("failed to fetch radiograph for export")
		return set(5, "Image not found")
	}

	cell, _ := excelize.CoordinatesToCellName(5, row)
	if err := workbook.AddPictureFromBytes(exportSheet, cell, &excelize.Picture{
		Extension: imageExtension(patient.OPGLink),
		File:      data,
		Format:    &excelize.GraphicOptions{ScaleX: 0.25, ScaleY: 0.25},
	}); err != nil {
		return set(5, fmt.Sprintf("Error loading image: %v", err))
	}
	return nil
}

func imageExtension(link string) string {
	ext := strings.ToLower(path.Ext(link))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif":
		return ext
	default:
		return ".png"
	}
}
