package estimation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dentage-research/platform/pkg/common/config"
	"github.com/dentage-research/platform/pkg/common/models"
	"github.com/dentage-research/platform/pkg/registry"
)

func newTestService(t *testing.T, policy config.ResubmissionPolicy) (*Service, *Repository, *registry.Repository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	patients := registry.NewRepository(db)
	require.NoError(t, patients.AutoMigrate())
	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())

	return NewService(repo, nil, policy), repo, patients
}

func seedCodedPatient(t *testing.T, patients *registry.Repository, codeA, codeB string) models.Patient {
	t.Helper()
	patient, err := patients.Create(context.Background(), registry.CreatePatientInput{
		PatientID: "1",
		Name:      "First",
		ActualAge: 9.2,
		Sex:       "female",
		CodeA:     &codeA,
		CodeB:     &codeB,
	})
	require.NoError(t, err)
	return patient
}

func TestSubmitReconcilesOntoResolvedColumn(t *testing.T) {
	service, _, patients := newTestService(t, config.ResubmissionLastWriteWins)
	ctx := context.Background()
	patient := seedCodedPatient(t, patients, "AAAA1111", "BBBB2222")

	margin := 0.5
	result, err := service.Submit(ctx, models.SubmitEstimateRequest{
		Code:         "BBBB2222",
		EstimatedAge: 8.7,
		Method:       "Demirjian",
		ErrorMargin:  &margin,
	})
	require.NoError(t, err)
	assert.True(t, result.Reconciled)
	assert.Equal(t, "Demirjian", result.Method)

	updated, err := patients.GetByID(ctx, patient.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.DemirjianEstimatedAge)
	assert.InDelta(t, 8.7, *updated.DemirjianEstimatedAge, 1e-9)
	require.NotNil(t, updated.DemirjianErrorMargin)
	assert.InDelta(t, 0.5, *updated.DemirjianErrorMargin, 1e-9)
	assert.Nil(t, updated.AlQahtaniEstimatedAge)
}

func TestSubmitResolvedColumnWinsOverSubmittedMethod(t *testing.T) {
	// The code belongs to the AlQahtani column even if the form said
	// Demirjian.
	service, _, patients := newTestService(t, config.ResubmissionLastWriteWins)
	ctx := context.Background()
	patient := seedCodedPatient(t, patients, "AAAA1111", "BBBB2222")

	result, err := service.Submit(ctx, models.SubmitEstimateRequest{
		Code:         "AAAA1111",
		EstimatedAge: 10.1,
		Method:       "demirjian",
	})
	require.NoError(t, err)
	assert.Equal(t, "AlQahtani", result.Method)

	updated, err := patients.GetByID(ctx, patient.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AlQahtaniEstimatedAge)
	assert.Nil(t, updated.DemirjianEstimatedAge)
}

func TestSubmitUnknownCodeLogsWithoutReconciling(t *testing.T) {
	service, repo, patients := newTestService(t, config.ResubmissionLastWriteWins)
	ctx := context.Background()
	seedCodedPatient(t, patients, "AAAA1111", "BBBB2222")

	result, err := service.Submit(ctx, models.SubmitEstimateRequest{
		Code:         "ZZZZ9999",
		EstimatedAge: 7.5,
		Method:       "alqahtani",
	})
	require.NoError(t, err)
	assert.False(t, result.Reconciled)

	entries, err := repo.ListEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ZZZZ9999", entries[0].Code)
}

func TestSubmitLastWriteWinsReplacesEstimate(t *testing.T) {
	service, repo, patients := newTestService(t, config.ResubmissionLastWriteWins)
	ctx := context.Background()
	patient := seedCodedPatient(t, patients, "AAAA1111", "BBBB2222")

	_, err := service.Submit(ctx, models.SubmitEstimateRequest{
		Code: "AAAA1111", EstimatedAge: 9.0, Method: "alqahtani",
	})
	require.NoError(t, err)
	_, err = service.Submit(ctx, models.SubmitEstimateRequest{
		Code: "AAAA1111", EstimatedAge: 11.0, Method: "alqahtani",
	})
	require.NoError(t, err)

	updated, err := patients.GetByID(ctx, patient.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AlQahtaniEstimatedAge)
	assert.InDelta(t, 11.0, *updated.AlQahtaniEstimatedAge, 1e-9)

	// Both submissions remain in the append-only log.
	entries, err := repo.ListEntries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSubmitRejectPolicyRefusesDuplicateButLogs(t *testing.T) {
	service, repo, patients := newTestService(t, config.ResubmissionReject)
	ctx := context.Background()
	patient := seedCodedPatient(t, patients, "AAAA1111", "BBBB2222")

	_, err := service.Submit(ctx, models.SubmitEstimateRequest{
		Code: "AAAA1111", EstimatedAge: 9.0, Method: "alqahtani",
	})
	require.NoError(t, err)

	_, err = service.Submit(ctx, models.SubmitEstimateRequest{
		Code: "AAAA1111", EstimatedAge: 11.0, Method: "alqahtani",
	})
	assert.ErrorIs(t, err, ErrDuplicateSubmission)

	updated, err := patients.GetByID(ctx, patient.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AlQahtaniEstimatedAge)
	assert.InDelta(t, 9.0, *updated.AlQahtaniEstimatedAge, 1e-9)

	entries, err := repo.ListEntries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSubmitValidation(t *testing.T) {
	service, _, _ := newTestService(t, config.ResubmissionLastWriteWins)
	ctx := context.Background()

	_, err := service.Submit(ctx, models.SubmitEstimateRequest{EstimatedAge: 9, Method: "alqahtani"})
	assert.ErrorIs(t, err, ErrInvalidSubmission)

	_, err = service.Submit(ctx, models.SubmitEstimateRequest{Code: "AAAA1111", EstimatedAge: -1, Method: "alqahtani"})
	assert.ErrorIs(t, err, ErrInvalidSubmission)

	_, err = service.Submit(ctx, models.SubmitEstimateRequest{Code: "AAAA1111", EstimatedAge: 9, Method: "harris"})
	assert.ErrorIs(t, err, ErrInvalidSubmission)
}
