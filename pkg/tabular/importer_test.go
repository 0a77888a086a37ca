package tabular

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dentage-research/platform/pkg/registry"
)

func newTestService(t *testing.T) (*Service, *registry.Repository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	patients := registry.NewRepository(db)
	require.NoError(t, patients.AutoMigrate())
	return NewService(patients, nil, nil), patients
}

func TestImportCSVSimpleFormat(t *testing.T) {
	service, patients := newTestService(t)
	ctx := context.Background()

	csv := strings.Join([]string{
		"ID,Name,Actual Age,Sex",
		"1,Alice,9.5,female",
		"2,Bob,11,male",
		"",
	}, "\n")

	result, err := service.ImportCSV(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Zero(t, result.Skipped)

	patient, err := patients.GetByPatientID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", patient.Name)
	assert.InDelta(t, 9.5, patient.ActualAge, 1e-9)
}

func TestImportCSVSkipsExistingIdentifiers(t *testing.T) {
	service, patients := newTestService(t)
	ctx := context.Background()

	_, err := patients.Create(ctx, registry.CreatePatientInput{PatientID: "1", Name: "Old", ActualAge: 7, Sex: "male"})
	require.NoError(t, err)

	csv := "ID,Name,Actual Age,Sex\n1,New,9.5,female\n2,Bob,11,male\n"
	result, err := service.ImportCSV(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Skipped)

	// The existing row was not overwritten.
	patient, err := patients.GetByPatientID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Old", patient.Name)
}

func TestImportCSVFullFormatCarriesCodes(t *testing.T) {
	service, patients := newTestService(t)
	ctx := context.Background()

	csv := "ID,Name,Age,Sex,OPG,A code,D code,A Age,D Age,Actual age\n" +
		"1,Alice,9,female,link,CODEA123,CODED456,9.1,8.9,9.5\n"

	result, err := service.ImportCSV(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	patient, err := patients.GetByPatientID(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, patient.CodeA)
	require.NotNil(t, patient.CodeB)
	assert.Equal(t, "CODEA123", *patient.CodeA)
	assert.Equal(t, "CODED456", *patient.CodeB)
	// Actual age comes from the last column in the full layout.
	assert.InDelta(t, 9.5, patient.ActualAge, 1e-9)
}

func TestImportCSVIgnoresShortAndBlankRows(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	csv := "ID,Name,Actual Age,Sex\n1,Alice,9.5,female\nonly,two\n,NoID,5,male\n"
	result, err := service.ImportCSV(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Zero(t, result.Skipped)
}

func TestImportXLSX(t *testing.T) {
	service, patients := newTestService(t)
	ctx := context.Background()

	workbook := excelize.NewFile()
	sheet := workbook.GetSheetName(0)
	rows := [][]interface{}{
		{"ID", "Name", "Actual Age", "Sex"},
		{"1", "Alice", 9.5, "female"},
		{"2", "Bob", 11, "male"},
	}
	for i, row := range rows {
		for j, value := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, workbook.SetCellValue(sheet, cell, value))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, workbook.Write(&buf))

	result, err := service.ImportXLSX(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)

	_, err = patients.GetByPatientID(ctx, "2")
	assert.NoError(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	service, patients := newTestService(t)
	ctx := context.Background()

	codeA := "CODEA123"
	_, err := patients.Create(ctx, registry.CreatePatientInput{
		PatientID: "1", Name: "Alice", ActualAge: 9.5, Sex: "female", CodeA: &codeA,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, service.Export(ctx, &buf))

	workbook, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer workbook.Close()

	rows, err := workbook.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "Alice", rows[1][1])
	assert.Equal(t, "CODEA123", rows[1][5])
}
