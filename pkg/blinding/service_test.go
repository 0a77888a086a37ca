package blinding

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dentage-research/platform/pkg/common/config"
	"github.com/dentage-research/platform/pkg/common/models"
	"github.com/dentage-research/platform/pkg/estimation"
	"github.com/dentage-research/platform/pkg/registry"
)

func newTestSetup(t *testing.T) (*Service, *registry.Repository, *estimation.Repository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	patients := registry.NewRepository(db)
	require.NoError(t, patients.AutoMigrate())
	entries := estimation.NewRepository(db)
	require.NoError(t, entries.AutoMigrate())

	cfg := &config.Config{
		CodeLength:       8,
		CodeAlphabet:     "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
		CodeSweepRetries: 3,
	}
	return NewService(NewRepository(db), entries, nil, cfg), patients, entries
}

func seed(t *testing.T, patients *registry.Repository, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := patients.Create(context.Background(), registry.CreatePatientInput{
			PatientID: strconv.Itoa(i),
			Name:      "Patient " + strconv.Itoa(i),
			ActualAge: 10,
			Sex:       "male",
		})
		require.NoError(t, err)
	}
}

func TestAssignMissingCodesAssignsUniquePairs(t *testing.T) {
	service, patients, _ := newTestSetup(t)
	ctx := context.Background()
	seed(t, patients, 10)

	assigned, err := service.AssignMissingCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, assigned)

	rows, _, err := patients.List(ctx, "", 200, 0)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, row := range rows {
		require.NotNil(t, row.CodeA)
		require.NotNil(t, row.CodeB)
		assert.Len(t, *row.CodeA, 8)
		assert.Len(t, *row.CodeB, 8)
		assert.False(t, seen[*row.CodeA], "code reused: %s", *row.CodeA)
		assert.False(t, seen[*row.CodeB], "code reused: %s", *row.CodeB)
		seen[*row.CodeA] = true
		seen[*row.CodeB] = true
	}
}

func TestAssignMissingCodesIsIdempotent(t *testing.T) {
	service, patients, _ := newTestSetup(t)
	ctx := context.Background()
	seed(t, patients, 5)

	_, err := service.AssignMissingCodes(ctx)
	require.NoError(t, err)

	before, _, err := patients.List(ctx, "", 200, 0)
	require.NoError(t, err)

	assigned, err := service.AssignMissingCodes(ctx)
	require.NoError(t, err)
	assert.Zero(t, assigned)

	after, _, err := patients.List(ctx, "", 200, 0)
	require.NoError(t, err)
	for i := range before {
		assert.Equal(t, *before[i].CodeA, *after[i].CodeA)
		assert.Equal(t, *before[i].CodeB, *after[i].CodeB)
	}
}

func TestBlindedViewExposesNoIdentity(t *testing.T) {
	service, patients, _ := newTestSetup(t)
	ctx := context.Background()
	seed(t, patients, 3)

	_, err := service.AssignMissingCodes(ctx)
	require.NoError(t, err)

	entries, err := service.BuildBlindedView(ctx, "", false)
	require.NoError(t, err)
	require.Len(t, entries, 6)

	methods := map[string]int{}
	for _, entry := range entries {
		assert.NotEmpty(t, entry.Code)
		methods[entry.Method]++
	}
	assert.Equal(t, 3, methods["AlQahtani"])
	assert.Equal(t, 3, methods["Demirjian"])
}

func TestBlindedViewExcludesEstimatedCodes(t *testing.T) {
	service, patients, entries := newTestSetup(t)
	ctx := context.Background()
	seed(t, patients, 2)

	_, err := service.AssignMissingCodes(ctx)
	require.NoError(t, err)

	rows, _, err := patients.List(ctx, "", 200, 0)
	require.NoError(t, err)
	done := *rows[0].CodeA
	_, err = entries.AppendEntry(ctx, estimation.AppendEntryInput{
		Code: done, EstimatedAge: 9.5, Method: models.MethodAlQahtani,
	})
	require.NoError(t, err)

	view, err := service.BuildBlindedView(ctx, "", true)
	require.NoError(t, err)
	require.Len(t, view, 3)
	for _, entry := range view {
		assert.NotEqual(t, done, entry.Code)
	}
}

func TestBlindedViewShufflePreservesCodeSet(t *testing.T) {
	service, patients, _ := newTestSetup(t)
	ctx := context.Background()
	seed(t, patients, 6)

	_, err := service.AssignMissingCodes(ctx)
	require.NoError(t, err)

	first, err := service.BuildBlindedView(ctx, "", false)
	require.NoError(t, err)
	second, err := service.BuildBlindedView(ctx, "", false)
	require.NoError(t, err)

	assert.ElementsMatch(t, codesOf(first), codesOf(second))
}

func codesOf(entries []models.BlindedEntry) []string {
	codes := make([]string, len(entries))
	for i, entry := range entries {
		codes[i] = entry.Code
	}
	sort.Strings(codes)
	return codes
}
