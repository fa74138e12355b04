package sqlite

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dtroode/faceid-server/internal/model"
)

var _ model.IdentityStore = (*IdentityRepository)(nil)

type settingRow struct {
	ID                  int `gorm:"primaryKey;autoIncrement:false"`
	DescriptorDimension int `gorm:"not null"`
}

func (settingRow) TableName() string { return "store_settings" }

type identityRow struct {
	ID                 uint   `gorm:"primaryKey;autoIncrement"`
	ExternalID         string `gorm:"uniqueIndex;not null"`
	DisplayName        string `gorm:"not null"`
	InstitutionalEmail string `gorm:"not null"`
	Phone              string `gorm:"not null"`
	ImageRef           string `gorm:"not null"`
	CreatedAt          time.Time
	Descriptors        []descriptorRow `gorm:"foreignKey:IdentityID"`
}

func (identityRow) TableName() string { return "identities" }

type descriptorRow struct {
	IdentityID uint   `gorm:"primaryKey;autoIncrement:false"`
	Position   int    `gorm:"primaryKey;autoIncrement:false"`
	Embedding  []byte `gorm:"not null"`
}

func (descriptorRow) TableName() string { return "identity_descriptors" }

type IdentityRepository struct {
	db *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) Insert(ctx context.Context, identity model.Identity) (model.Identity, error) {
	dim, err := identity.Dimension()
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to insert identity: %w", err)
	}
	if dim == 0 {
		return model.Identity{}, fmt.Errorf("failed to insert identity: %w", model.ErrValidation)
	}

	row := identityRow{
		ExternalID:         identity.ExternalID,
		DisplayName:        identity.DisplayName,
		InstitutionalEmail: identity.InstitutionalEmail,
		Phone:              identity.Phone,
		ImageRef:           identity.ImageRef,
	}
	for pos, d := range identity.Descriptors {
		row.Descriptors = append(row.Descriptors, descriptorRow{Position: pos, Embedding: encode(d)})
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return model.ErrDuplicateIdentity
			}
			return unavailable("failed to insert identity", err)
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&settingRow{ID: 1, DescriptorDimension: dim}).Error; err != nil {
			return unavailable("failed to claim descriptor dimension", err)
		}

		var setting settingRow
		if err := tx.First(&setting, 1).Error; err != nil {
			return unavailable("failed to read descriptor dimension", err)
		}
		if setting.DescriptorDimension != dim {
			return model.ErrDimensionMismatch
		}
		return nil
	})
	if err != nil {
		return model.Identity{}, err
	}

	identity.CreatedAt = row.CreatedAt
	return identity, nil
}

func (r *IdentityRepository) FindByExternalID(ctx context.Context, externalID string) (model.Identity, error) {
	var row identityRow
	err := r.db.WithContext(ctx).
		Preload("Descriptors", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("external_id = ?", externalID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Identity{}, model.ErrNotFound
		}
		return model.Identity{}, unavailable("failed to get identity", err)
	}
	return row.toModel(), nil
}

func (r *IdentityRepository) List(ctx context.Context) iter.Seq2[model.Summary, error] {
	return func(yield func(model.Summary, error) bool) {
		var rows []identityRow
		if err := r.db.WithContext(ctx).Order("external_id").Find(&rows).Error; err != nil {
			yield(model.Summary{}, unavailable("failed to list identities", err))
			return
		}
		for _, row := range rows {
			if !yield(row.toModel().Summary(), nil) {
				return
			}
		}
	}
}

// Scan loads all identities in a single read transaction and yields them
// afterwards, so the single connection is not held while the caller iterates.
func (r *IdentityRepository) Scan(ctx context.Context) iter.Seq2[model.Identity, error] {
	return func(yield func(model.Identity, error) bool) {
		var rows []identityRow
		err := r.db.WithContext(ctx).
			Preload("Descriptors", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
			Order("external_id").
			Find(&rows).Error
		if err != nil {
			yield(model.Identity{}, unavailable("failed to scan identities", err))
			return
		}
		for _, row := range rows {
			if !yield(row.toModel(), nil) {
				return
			}
		}
	}
}

func (r *IdentityRepository) Delete(ctx context.Context, externalID string) (model.Identity, error) {
	var deleted model.Identity
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row identityRow
		err := tx.Preload("Descriptors", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
			Where("external_id = ?", externalID).
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return unavailable("failed to get identity", err)
		}

		if err := tx.Where("identity_id = ?", row.ID).Delete(&descriptorRow{}).Error; err != nil {
			return unavailable("failed to delete descriptors", err)
		}
		if err := tx.Delete(&identityRow{}, row.ID).Error; err != nil {
			return unavailable("failed to delete identity", err)
		}

		deleted = row.toModel()
		return nil
	})
	if err != nil {
		return model.Identity{}, err
	}
	return deleted, nil
}

func (r *IdentityRepository) Dimension(ctx context.Context) (int, error) {
	var setting settingRow
	err := r.db.WithContext(ctx).First(&setting, 1).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, unavailable("failed to read descriptor dimension", err)
	}
	return setting.DescriptorDimension, nil
}

func (row identityRow) toModel() model.Identity {
	identity := model.Identity{
		ExternalID:         row.ExternalID,
		DisplayName:        row.DisplayName,
		InstitutionalEmail: row.InstitutionalEmail,
		Phone:              row.Phone,
		ImageRef:           row.ImageRef,
		CreatedAt:          row.CreatedAt,
	}
	for _, d := range row.Descriptors {
		identity.Descriptors = append(identity.Descriptors, decode(d.Embedding))
	}
	return identity
}

// encode stores a descriptor as little-endian float32 values.
func encode(d model.Descriptor) []byte {
	buf := make([]byte, len(d)*4)
	for i, v := range d {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decode(buf []byte) model.Descriptor {
	d := make(model.Descriptor, len(buf)/4)
	for i := range d {
		d[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return d
}

func unavailable(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, model.ErrStoreUnavailable, err)
}
