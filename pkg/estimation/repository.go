package estimation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dentage-research/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNoMatchingPatient = errors.New("no patient holds this code")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type entryModel struct {
	ID           int64          `gorm:"primaryKey;column:id"`
	Code         string         `gorm:"column:code;index"`
	EstimatedAge float64        `gorm:"column:estimated_age"`
	MethodUsed   string         `gorm:"column:method_used"`
	ToothStages  datatypes.JSON `gorm:"column:tooth_stages"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
}

func (entryModel) TableName() string { return "estimation_entries" }

// estimateColumns is the slice of the patients table this package writes.
// Identity fields stay out of reach here on purpose.
type estimateColumns struct {
	ID                    int64    `gorm:"primaryKey;column:id"`
	CodeA                 *string  `gorm:"column:code_a"`
	CodeB                 *string  `gorm:"column:code_b"`
	AlQahtaniEstimatedAge *float64 `gorm:"column:alqahtani_estimated_age"`
	DemirjianEstimatedAge *float64 `gorm:"column:demirjian_estimated_age"`
}

func (estimateColumns) TableName() string { return "patients" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&entryModel{})
}

type AppendEntryInput struct {
	Code         string
	EstimatedAge float64
	Method       models.Method
	ToothStages  map[string]string
}

func (r *Repository) AppendEntry(ctx context.Context, input AppendEntryInput) (models.EstimationEntry, error) {
	row := &entryModel{
		Code:         input.Code,
		EstimatedAge: input.EstimatedAge,
		MethodUsed:   string(input.Method),
		CreatedAt:    time.Now().UTC(),
	}
	if len(input.ToothStages) > 0 {
		if data, err := json.Marshal(input.ToothStages); err == nil {
			row.ToothStages = datatypes.JSON(data)
		}
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.EstimationEntry{}, err
	}
	return mapEntry(*row), nil
}

// CodeOwner identifies the patient slot a blinding code resolves to.
type CodeOwner struct {
	RowID         int64
	Method        models.Method
	ExistingValue *float64
}

// ResolveCode maps a submitted code to the owning patient row and the method
// slot the code represents. The code columns live in one namespace, so a code
// matches at most one column of one row.
func (r *Repository) ResolveCode(ctx context.Context, code string) (CodeOwner, error) {
	var row estimateColumns
	err := r.db.WithContext(ctx).Where("code_a = ? OR code_b = ?", code, code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CodeOwner{}, ErrNoMatchingPatient
	}
	if err != nil {
		return CodeOwner{}, err
	}

	if row.CodeA != nil && *row.CodeA == code {
		return CodeOwner{RowID: row.ID, Method: models.MethodAlQahtani, ExistingValue: row.AlQahtaniEstimatedAge}, nil
	}
	return CodeOwner{RowID: row.ID, Method: models.MethodDemirjian, ExistingValue: row.DemirjianEstimatedAge}, nil
}

// WriteEstimate sets the estimate slot for the resolved method on exactly one
// patient row.
func (r *Repository) WriteEstimate(ctx context.Context, rowID int64, method models.Method, value float64, margin *float64) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	switch method {
	case models.MethodAlQahtani:
		updates["alqahtani_estimated_age"] = value
		if margin != nil {
			updates["alqahtani_error_margin"] = *margin
		}
	case models.MethodDemirjian:
		updates["demirjian_estimated_age"] = value
		if margin != nil {
			updates["demirjian_error_margin"] = *margin
		}
	}
	return r.db.WithContext(ctx).Model(&estimateColumns{}).Where("id = ?", rowID).Updates(updates).Error
}

// EstimatedCodes returns every code that already has a submission logged.
func (r *Repository) EstimatedCodes(ctx context.Context) (map[string]struct{}, error) {
	var codes []string
	if err := r.db.WithContext(ctx).Model(&entryModel{}).Distinct().Pluck("code", &codes).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set, nil
}

// PurgeByCodes removes log rows for the given codes. Called when a patient is
// deleted so the log does not keep entries pointing at a record that no
// longer exists.
func (r *Repository) PurgeByCodes(ctx context.Context, codes []string) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("code IN ?", codes).Delete(&entryModel{})
	return result.RowsAffected, result.Error
}

func (r *Repository) ListEntries(ctx context.Context, limit int) ([]models.EstimationEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []entryModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]models.EstimationEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, mapEntry(row))
	}
	return entries, nil
}

func mapEntry(row entryModel) models.EstimationEntry {
	entry := models.EstimationEntry{
		ID:           row.ID,
		Code:         row.Code,
		EstimatedAge: row.EstimatedAge,
		MethodUsed:   models.Method(row.MethodUsed),
		CreatedAt:    row.CreatedAt,
	}
	if len(row.ToothStages) > 0 {
		var stages map[string]string
		_ = json.Unmarshal(row.ToothStages, &stages)
		entry.ToothStages = stages
	}
	return entry
}
