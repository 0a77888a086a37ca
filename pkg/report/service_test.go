package report

import (
	"context"
	"testing"
	"time"

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

func newTestService(t *testing.T) (*Service, *registry.Repository, *estimation.Repository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	patients := registry.NewRepository(db)
	require.NoError(t, patients.AutoMigrate())
	entries := estimation.NewRepository(db)
	require.NoError(t, entries.AutoMigrate())

	service := NewService(NewRepository(db), NewMemoryCache(time.Minute))
	return service, patients, entries
}

func submit(t *testing.T, entries *estimation.Repository, policy config.ResubmissionPolicy, code string, age float64, method string) {
	t.Helper()
	svc := estimation.NewService(entries, nil, policy)
	_, err := svc.Submit(context.Background(), models.SubmitEstimateRequest{
		Code: code, EstimatedAge: age, Method: method,
	})
	require.NoError(t, err)
}

func seedEstimated(t *testing.T, patients *registry.Repository, entries *estimation.Repository, id string, actual float64, alq, dem *float64) {
	t.Helper()
	codeA := "A" + id + "AAAAAA"
	codeB := "B" + id + "BBBBBB"
	_, err := patients.Create(context.Background(), registry.CreatePatientInput{
		PatientID: id, Name: "Patient " + id, ActualAge: actual, Sex: "male",
		CodeA: &codeA, CodeB: &codeB,
	})
	require.NoError(t, err)

	if alq != nil {
		submit(t, entries, config.ResubmissionLastWriteWins, codeA, *alq, "alqahtani")
	}
	if dem != nil {
		submit(t, entries, config.ResubmissionLastWriteWins, codeB, *dem, "demirjian")
	}
}

func f(v float64) *float64 { return &v }

func TestSummaryComputesMeanAbsoluteError(t *testing.T) {
	service, patients, entries := newTestService(t)
	ctx := context.Background()

	seedEstimated(t, patients, entries, "1", 10.0, f(11.0), f(9.0))
	seedEstimated(t, patients, entries, "2", 8.0, f(8.5), nil)
	seedEstimated(t, patients, entries, "3", 12.0, nil, nil)

	summary, err := service.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Patients)
	require.Len(t, summary.Methods, 2)

	byMethod := map[models.Method]models.MethodSummary{}
	for _, m := range summary.Methods {
		byMethod[m.Method] = m
	}

	alq := byMethod[models.MethodAlQahtani]
	assert.Equal(t, 2, alq.Pairs)
	assert.InDelta(t, 0.75, alq.MeanAbsoluteError, 1e-9)
	assert.InDelta(t, 0.75, alq.MeanError, 1e-9)

	dem := byMethod[models.MethodDemirjian]
	assert.Equal(t, 1, dem.Pairs)
	assert.InDelta(t, 1.0, dem.MeanAbsoluteError, 1e-9)
	assert.InDelta(t, -1.0, dem.MeanError, 1e-9)
}

func TestPairsExcludeUnestimatedPatients(t *testing.T) {
	service, patients, entries := newTestService(t)
	ctx := context.Background()

	seedEstimated(t, patients, entries, "1", 10.0, f(10.4), nil)
	seedEstimated(t, patients, entries, "2", 9.0, nil, nil)

	pairs, err := service.Pairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, models.MethodAlQahtani, pairs[0].Method)
}

func TestSummaryServedFromCacheUntilInvalidated(t *testing.T) {
	service, patients, entries := newTestService(t)
	ctx := context.Background()

	seedEstimated(t, patients, entries, "1", 10.0, f(11.0), nil)

	first, err := service.Summary(ctx)
	require.NoError(t, err)

	// New data lands, but the cached rollup still answers.
	seedEstimated(t, patients, entries, "2", 8.0, f(9.0), nil)
	cached, err := service.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.GeneratedAt, cached.GeneratedAt)
	assert.Equal(t, first.Patients, cached.Patients)

	service.Invalidate(ctx)
	fresh, err := service.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Patients)
}

func TestMemoryCacheExpires(t *testing.T) {
	cache := NewMemoryCache(time.Millisecond)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, models.AnalysisSummary{Patients: 1}))
	time.Sleep(5 * time.Millisecond)

	_, err := cache.Get(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
