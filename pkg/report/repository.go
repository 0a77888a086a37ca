package report

import (
	"context"

	"gorm.io/gorm"

	"github.com/dentage-research/platform/pkg/common/models"
)

// accuracyColumns is the slice of the patients table the aggregator is
// allowed to see. Names and blinding codes stay out of report queries.
type accuracyColumns struct {
	ID                    int64    `gorm:"column:id"`
	ActualAge             float64  `gorm:"column:actual_age"`
	AlQahtaniEstimatedAge *float64 `gorm:"column:alqahtani_estimated_age"`
	DemirjianEstimatedAge *float64 `gorm:"column:demirjian_estimated_age"`
}

func (accuracyColumns) TableName() string {
	return "patients"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CollectPairs returns one pair per completed (patient, method) estimate.
// Patients with no estimate for a method contribute nothing for that method.
func (r *Repository) CollectPairs(ctx context.Context) ([]models.AccuracyPair, error) {
	var rows []accuracyColumns
	if err := r.db.WithContext(ctx).
		Where("alqahtani_estimated_age IS NOT NULL OR demirjian_estimated_age IS NOT NULL").
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	pairs := make([]models.AccuracyPair, 0, len(rows))
	for _, row := range rows {
		if row.AlQahtaniEstimatedAge != nil {
			pairs = append(pairs, models.AccuracyPair{
				ActualAge:    row.ActualAge,
				EstimatedAge: *row.AlQahtaniEstimatedAge,
				Method:       models.MethodAlQahtani,
			})
		}
		if row.DemirjianEstimatedAge != nil {
			pairs = append(pairs, models.AccuracyPair{
				ActualAge:    row.ActualAge,
				EstimatedAge: *row.DemirjianEstimatedAge,
				Method:       models.MethodDemirjian,
			})
		}
	}
	return pairs, nil
}

func (r *Repository) PatientCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&accuracyColumns{}).Count(&count).Error
	return count, err
}
