package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dentage-research/platform/pkg/common/models"
	"github.com/dentage-research/platform/pkg/estimation"
	"github.com/dentage-research/platform/pkg/opgstore"
)

func newTestService(t *testing.T) (*Service, *Repository, *estimation.Repository, *opgstore.MemoryStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	entries := estimation.NewRepository(db)
	require.NoError(t, entries.AutoMigrate())

	store := opgstore.NewMemoryStore()
	return NewService(repo, store, entries, nil), repo, entries, store
}

func TestCreateRenumbersIntoSequence(t *testing.T) {
	service, repo, _, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"7", "12", "40"} {
		_, err := service.Create(ctx, models.CreatePatientRequest{
			PatientID: id, Name: "P" + id, ActualAge: 9, Sex: "male",
		})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"1", "2", "3"}, currentIdentifiers(t, repo))
}

func TestDeleteCascadesEstimationEntries(t *testing.T) {
	service, repo, entries, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, models.CreatePatientRequest{
		PatientID: "1", Name: "First", ActualAge: 8, Sex: "female",
	})
	require.NoError(t, err)

	codeA := "AAAA1111"
	codeB := "BBBB2222"
	require.NoError(t, repo.db.Model(&patientModel{}).Where("id = ?", created.ID).
		Updates(map[string]interface{}{"code_a": codeA, "code_b": codeB}).Error)

	_, err = entries.AppendEntry(ctx, estimation.AppendEntryInput{
		Code: codeA, EstimatedAge: 8.5, Method: models.MethodAlQahtani,
	})
	require.NoError(t, err)
	_, err = entries.AppendEntry(ctx, estimation.AppendEntryInput{
		Code: codeB, EstimatedAge: 7.9, Method: models.MethodDemirjian,
	})
	require.NoError(t, err)

	result, err := service.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.EntriesRemoved)

	remaining, err := entries.ListEntries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeleteContinuesWhenStorageFails(t *testing.T) {
	service, repo, _, store := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, models.CreatePatientRequest{
		PatientID: "1", Name: "First", ActualAge: 8, Sex: "female",
	})
	require.NoError(t, err)

	// Point the record at an object the store does not hold. MemoryStore
	// deletes unknown keys without error, so force a failure instead.
	store.FailDeletes(true)
	require.NoError(t, repo.SetOPGLink(ctx, created.ID, "https://example.test/opg/1.png"))

	result, err := service.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, result.StorageDeleted)
	assert.NotEmpty(t, result.StorageWarning)

	_, err = repo.GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestAttachOPGStoresAndLinks(t *testing.T) {
	service, repo, _, store := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, models.CreatePatientRequest{
		PatientID: "1", Name: "First", ActualAge: 8, Sex: "female",
	})
	require.NoError(t, err)

	url, err := service.AttachOPG(ctx, created.ID, "scan one.png", []byte{0x89, 0x50}, "image/png")
	require.NoError(t, err)
	require.NotEmpty(t, url)
	assert.Equal(t, 1, store.Len())

	patient, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, url, patient.OPGLink)
}
