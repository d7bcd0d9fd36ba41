package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"farmgate/internal/model"
)

type pgUserRepository struct {
	db *gorm.DB
}

func NewPGUserRepository(db *gorm.DB) UserRepository {
	return &pgUserRepository{db: db}
}

func (r *pgUserRepository) GetByTeleID(ctx context.Context, teleID string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "tele_id = ?", teleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *pgUserRepository) Login(ctx context.Context, in LoginInput, newCode func() (string, error)) (*Snapshot, error) {
	var snap Snapshot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "tele_id = ?", in.TeleID).Error
		isNew := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !isNew {
			return err
		}

		if isNew {
			code, err := uniqueReferralCode(tx, in.ReferralBy, newCode)
			if err != nil {
				return err
			}
			user = newUser(in, code)
			if in.ReferralBy != "" {
				var n int64
				if err := tx.Model(&model.User{}).Where("referral_code = ?", in.ReferralBy).Count(&n).Error; err != nil {
					return err
				}
				if n == 1 {
					user.ReferralBy = in.ReferralBy
				}
			}
		}

		previousIP := applyLogin(&user, in)
		if isNew {
			err = tx.Create(&user).Error
		} else {
			err = tx.Save(&user).Error
		}
		if err != nil {
			return err
		}

		loc := model.Location{TeleID: in.TeleID, IPAddress: in.IPAddress, LastActiveAt: in.At, CreatedAt: in.At}
		if previousIP != "" && previousIP != in.IPAddress {
			loc.PreviousIP = previousIP
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tele_id"}, {Name: "ip_address"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_active_at"}),
		}).Create(&loc).Error; err != nil {
			return err
		}

		var locs []model.Location
		if err := tx.Where("tele_id = ?", in.TeleID).Order("created_at").Find(&locs).Error; err != nil {
			return err
		}

		snap = Snapshot{User: user, Locations: locs}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("login transaction: %w", err)
	}
	return &snap, nil
}

func uniqueReferralCode(tx *gorm.DB, referralBy string, newCode func() (string, error)) (string, error) {
	for i := 0; i < maxReferralAttempts; i++ {
		code, err := newCode()
		if err != nil {
			return "", err
		}
		if code == referralBy {
			continue
		}
		var n int64
		if err := tx.Model(&model.User{}).Where("referral_code = ?", code).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique referral code")
}

func (r *pgUserRepository) Flush(ctx context.Context, snap *Snapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).
			Where("tele_id = ?", snap.User.TeleID).
			Select("*").Omit("tele_id", "created_at").
			Updates(&snap.User)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if len(snap.Locations) > 0 {
			locs := make([]model.Location, len(snap.Locations))
			copy(locs, snap.Locations)
			for i := range locs {
				locs[i].ID = uuid.Nil
				locs[i].TeleID = snap.User.TeleID
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tele_id"}, {Name: "ip_address"}},
				DoUpdates: clause.AssignmentColumns([]string{"last_active_at", "previous_ip"}),
			}).Create(&locs).Error; err != nil {
				return err
			}
		}

		if len(snap.Logs) > 0 {
			if err := tx.CreateInBatches(snap.Logs, 100).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
