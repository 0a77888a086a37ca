package blinding

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// codeColumns is the slice of the patients table this package may touch.
// Name and actual age are not mapped here, so nothing built from these rows
// can carry them.
type codeColumns struct {
	ID      int64   `gorm:"primaryKey;column:id"`
	CodeA   *string `gorm:"column:code_a"`
	CodeB   *string `gorm:"column:code_b"`
	OPGLink string  `gorm:"column:opg_link"`
	Sex     string  `gorm:"column:sex"`
}

func (codeColumns) TableName() string { return "patients" }

// CodedRow is one patient's code-bearing view, stripped of identity.
type CodedRow struct {
	RowID   int64
	CodeA   *string
	CodeB   *string
	OPGLink string
	Sex     string
}

// Sweep runs fn against a transactional view of the repository. The whole
// code-assignment pass commits or rolls back as one unit.
func (r *Repository) Sweep(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// MissingCodeRows lists patients lacking one or both blinding codes, in
// creation order.
func (r *Repository) MissingCodeRows(ctx context.Context) ([]CodedRow, error) {
	var rows []codeColumns
	if err := r.db.WithContext(ctx).
		Where("code_a IS NULL OR code_b IS NULL").
		Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows(rows), nil
}

// AssignedCodes returns every code currently held by any patient, across
// both columns. Codes live in one namespace.
func (r *Repository) AssignedCodes(ctx context.Context) (map[string]struct{}, error) {
	var rows []codeColumns
	if err := r.db.WithContext(ctx).
		Where("code_a IS NOT NULL OR code_b IS NOT NULL").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(rows)*2)
	for _, row := range rows {
		if row.CodeA != nil {
			set[*row.CodeA] = struct{}{}
		}
		if row.CodeB != nil {
			set[*row.CodeB] = struct{}{}
		}
	}
	return set, nil
}

func (r *Repository) SetCodes(ctx context.Context, rowID int64, codeA, codeB *string) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if codeA != nil {
		updates["code_a"] = *codeA
	}
	if codeB != nil {
		updates["code_b"] = *codeB
	}
	return r.db.WithContext(ctx).Model(&codeColumns{}).Where("id = ?", rowID).Updates(updates).Error
}

// CodedRows lists patients holding at least one code, optionally filtered by
// a code substring search.
func (r *Repository) CodedRows(ctx context.Context, search string) ([]CodedRow, error) {
	query := r.db.WithContext(ctx).
		Where("code_a IS NOT NULL OR code_b IS NOT NULL")
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("code_a LIKE ? OR code_b LIKE ?", like, like)
	}

	var rows []codeColumns
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows(rows), nil
}

func mapRows(rows []codeColumns) []CodedRow {
	out := make([]CodedRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, CodedRow{
			RowID:   row.ID,
			CodeA:   row.CodeA,
			CodeB:   row.CodeB,
			OPGLink: row.OPGLink,
			Sex:     row.Sex,
		})
	}
	return out
}
