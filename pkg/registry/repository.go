package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dentage-research/platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrPatientNotFound    = errors.New("patient not found")
	ErrDuplicatePatientID = errors.New("patient with this identifier already exists")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type patientModel struct {
	ID                    int64     `gorm:"primaryKey;column:id"`
	PatientID             string    `gorm:"column:patient_id;uniqueIndex"`
	Name                  string    `gorm:"column:name"`
	ActualAge             float64   `gorm:"column:actual_age"`
	Sex                   string    `gorm:"column:sex"`
	OPGLink               string    `gorm:"column:opg_link"`
	CodeA                 *string   `gorm:"column:code_a;uniqueIndex"`
	CodeB                 *string   `gorm:"column:code_b;uniqueIndex"`
	AlQahtaniEstimatedAge *float64  `gorm:"column:alqahtani_estimated_age"`
	AlQahtaniErrorMargin  *float64  `gorm:"column:alqahtani_error_margin"`
	DemirjianEstimatedAge *float64  `gorm:"column:demirjian_estimated_age"`
	DemirjianErrorMargin  *float64  `gorm:"column:demirjian_error_margin"`
	CreatedAt             time.Time `gorm:"column:created_at"`
	UpdatedAt             time.Time `gorm:"column:updated_at"`
}

func (patientModel) TableName() string { return "patients" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&patientModel{})
}

type CreatePatientInput struct {
	PatientID string
	Name      string
	ActualAge float64
	Sex       string
	CodeA     *string
	CodeB     *string
}

func (r *Repository) Create(ctx context.Context, input CreatePatientInput) (models.Patient, error) {
	var existing int64
	if err := r.db.WithContext(ctx).Model(&patientModel{}).Where("patient_id = ?", input.PatientID).Count(&existing).Error; err != nil {
		return models.Patient{}, err
	}
	if existing > 0 {
		return models.Patient{}, ErrDuplicatePatientID
	}

	now := time.Now().UTC()
	row := &patientModel{
		PatientID: input.PatientID,
		Name:      input.Name,
		ActualAge: input.ActualAge,
		Sex:       input.Sex,
		CodeA:     input.CodeA,
		CodeB:     input.CodeB,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.Patient{}, err
	}
	return mapPatient(*row), nil
}

type UpdatePatientInput struct {
	PatientID string
	Name      string
	ActualAge float64
	Sex       string
}

// Update returns the stored patient and whether the display identifier
// changed, so the caller knows a renumber pass is due.
func (r *Repository) Update(ctx context.Context, id int64, input UpdatePatientInput) (models.Patient, bool, error) {
	var row patientModel
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Patient{}, false, ErrPatientNotFound
	}
	if err != nil {
		return models.Patient{}, false, err
	}

	idChanged := row.PatientID != input.PatientID
	if idChanged {
		var clash int64
		if err := r.db.WithContext(ctx).Model(&patientModel{}).
			Where("patient_id = ? AND id <> ?", input.PatientID, id).Count(&clash).Error; err != nil {
			return models.Patient{}, false, err
		}
		if clash > 0 {
			return models.Patient{}, false, ErrDuplicatePatientID
		}
	}

	row.PatientID = input.PatientID
	row.Name = input.Name
	row.ActualAge = input.ActualAge
	row.Sex = input.Sex
	row.UpdatedAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return models.Patient{}, false, err
	}
	return mapPatient(row), idChanged, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (models.Patient, error) {
	var row patientModel
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Patient{}, ErrPatientNotFound
	}
	if err != nil {
		return models.Patient{}, err
	}
	return mapPatient(row), nil
}

func (r *Repository) GetByPatientID(ctx context.Context, patientID string) (models.Patient, error) {
	var row patientModel
	err := r.db.WithContext(ctx).First(&row, "patient_id = ?", patientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Patient{}, ErrPatientNotFound
	}
	if err != nil {
		return models.Patient{}, err
	}
	return mapPatient(row), nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&patientModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *Repository) SetOPGLink(ctx context.Context, id int64, link string) error {
	result := r.db.WithContext(ctx).Model(&patientModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"opg_link":   link,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *Repository) List(ctx context.Context, search string, limit, offset int) ([]models.Patient, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := r.db.WithContext(ctx).Model(&patientModel{})
	if search != "" {
		like := "%" + search + "%"
		query = query.Where(
			"patient_id LIKE ? OR name LIKE ? OR code_a LIKE ? OR code_b LIKE ?",
			like, like, like, like,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []patientModel
	if err := query.Order("id").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	patients := make([]models.Patient, 0, len(rows))
	for _, row := range rows {
		patients = append(patients, mapPatient(row))
	}
	return patients, total, nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&patientModel{}).Count(&count).Error
	return count, err
}

// Renumber reassigns every display identifier to a dense 1..N series in
// creation order. T-prefixed identifiers keep the prefix, plain numeric ones
// become the bare number, and anything else is left as it stands.
//
// The rename runs in two phases inside one transaction: every row is first
// moved to a staging identifier that cannot collide with any final value,
// then the final values are written. A single pass would trip the unique
// constraint whenever a row's new number equals another row's current one.
func (r *Repository) Renumber(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []patientModel
		if err := tx.Order("id").Find(&rows).Error; err != nil {
			return err
		}

		renumbered := make([]bool, len(rows))
		finals := make([]string, len(rows))
		for i := range rows {
			final, ok := nextIdentifier(rows[i].PatientID, i+1)
			if !ok {
				continue
			}
			renumbered[i] = true
			finals[i] = final
		}

		// Phase one: stage every row that will receive a new identifier.
		for i := range rows {
			if !renumbered[i] {
				continue
			}
			staging := "renum:" + uuid.New().String()
			if err := tx.Model(&patientModel{}).Where("id = ?", rows[i].ID).
				Update("patient_id", staging).Error; err != nil {
				return fmt.Errorf("renumber staging failed for %q: %w", rows[i].PatientID, err)
			}
		}

		// Phase two: assign the final sequential identifiers.
		for i := range rows {
			if !renumbered[i] {
				continue
			}
			if err := tx.Model(&patientModel{}).Where("id = ?", rows[i].ID).
				Update("patient_id", finals[i]).Error; err != nil {
				return fmt.Errorf("renumber finalize failed for %q: %w", rows[i].PatientID, err)
			}
		}
		return nil
	})
}

// nextIdentifier maps an existing display identifier to its sequential
// replacement, preserving the convention the record already follows.
func nextIdentifier(current string, position int) (string, bool) {
	if strings.HasPrefix(current, "T") {
		return "T" + strconv.Itoa(position), true
	}
	if _, err := strconv.Atoi(current); err == nil {
		return strconv.Itoa(position), true
	}
	return "", false
}

func mapPatient(row patientModel) models.Patient {
	return models.Patient{
		ID:                    row.ID,
		PatientID:             row.PatientID,
		Name:                  row.Name,
		ActualAge:             row.ActualAge,
		Sex:                   row.Sex,
		OPGLink:               row.OPGLink,
		CodeA:                 row.CodeA,
		CodeB:                 row.CodeB,
		AlQahtaniEstimatedAge: row.AlQahtaniEstimatedAge,
		AlQahtaniErrorMargin:  row.AlQahtaniErrorMargin,
		DemirjianEstimatedAge: row.DemirjianEstimatedAge,
		DemirjianErrorMargin:  row.DemirjianErrorMargin,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
	}
}
