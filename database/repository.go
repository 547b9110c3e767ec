package database

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"splitpay-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSplitRepository persists Split documents. The conditional Save is the
// optimistic-concurrency check: a row whose updated_at no longer matches the
// caller's read is a stale write and is rejected, never merged.
type GormSplitRepository struct {
	db *gorm.DB
}

func NewGormSplitRepository(db *gorm.DB) *GormSplitRepository {
	return &GormSplitRepository{db: db}
}

func (r *GormSplitRepository) Get(ctx context.Context, id uuid.UUID) (*models.Split, error) {
	var split models.Split
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Preload("Items").
		First(&split, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &models.NotFoundError{Resource: "split", ID: id.String()}
		}
		return nil, err
	}
	return &split, nil
}

func (r *GormSplitRepository) ListByStatus(ctx context.Context, status models.SplitStatus, userID uuid.UUID) ([]models.Split, error) {
	query := r.db.WithContext(ctx).
		Preload("Participants").
		Preload("Items").
		Where("status = ?", status)
	if userID != uuid.Nil {
		query = query.Where("id IN (?)",
			r.db.Model(&models.SplitParticipant{}).Select("split_id").Where("user_id = ?", userID))
	}

	var splits []models.Split
	if err := query.Order("created_at DESC").Find(&splits).Error; err != nil {
		return nil, err
	}
	return splits, nil
}

func (r *GormSplitRepository) Create(ctx context.Context, split *models.Split) error {
	return r.db.WithContext(ctx).Create(split).Error
}

func (r *GormSplitRepository) Save(ctx context.Context, split *models.Split, expectedUpdatedAt time.Time) error {
	now := time.Now()
	// One transaction per document: the split row and its participant rows
	// are a single document. Split and wallet never share a transaction.
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Split{}).
			Where("id = ? AND updated_at = ?", split.ID, expectedUpdatedAt).
			Updates(map[string]interface{}{
				"title":          split.Title,
				"total_amount":   split.TotalAmount,
				"currency":       split.Currency,
				"split_method":   split.SplitMethod,
				"status":         split.Status,
				"degen_loser_id": split.DegenLoserID,
				"wallet_id":      split.WalletID,
				"wallet_address": split.WalletAddress,
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &models.ConcurrencyConflictError{Resource: "split", ID: split.ID.String()}
		}

		if err := tx.Where("split_id = ?", split.ID).Delete(&models.SplitParticipant{}).Error; err != nil {
			return err
		}
		for i := range split.Participants {
			split.Participants[i].SplitID = split.ID
			if err := tx.Create(&split.Participants[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	split.UpdatedAt = now
	return nil
}

func (r *GormSplitRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("split_id = ?", id).Delete(&models.SplitParticipant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("split_id = ?", id).Delete(&models.SplitItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Split{}, "id = ?", id).Error
	})
}

// GormWalletRepository persists SplitWallet documents.
type GormWalletRepository struct {
	db *gorm.DB
}

func NewGormWalletRepository(db *gorm.DB) *GormWalletRepository {
	return &GormWalletRepository{db: db}
}

func (r *GormWalletRepository) Get(ctx context.Context, id uuid.UUID) (*models.SplitWallet, error) {
	var wallet models.SplitWallet
	err := r.db.WithContext(ctx).Preload("Locks").First(&wallet, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &models.NotFoundError{Resource: "wallet", ID: id.String()}
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *GormWalletRepository) GetBySplit(ctx context.Context, splitID uuid.UUID) (*models.SplitWallet, error) {
	var wallet models.SplitWallet
	err := r.db.WithContext(ctx).Preload("Locks").First(&wallet, "split_id = ?", splitID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &models.NotFoundError{Resource: "wallet", ID: "split:" + splitID.String()}
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *GormWalletRepository) Create(ctx context.Context, wallet *models.SplitWallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *GormWalletRepository) Save(ctx context.Context, wallet *models.SplitWallet, expectedUpdatedAt time.Time) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SplitWallet{}).
			Where("id = ? AND updated_at = ?", wallet.ID, expectedUpdatedAt).
			Updates(map[string]interface{}{
				"status":     wallet.Status,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &models.ConcurrencyConflictError{Resource: "wallet", ID: wallet.ID.String()}
		}

		if err := tx.Where("wallet_id = ?", wallet.ID).Delete(&models.WalletLock{}).Error; err != nil {
			return err
		}
		for i := range wallet.Locks {
			wallet.Locks[i].WalletID = wallet.ID
			if err := tx.Create(&wallet.Locks[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	wallet.UpdatedAt = now
	return nil
}

// GormActivityLog appends audit rows. A failed insert is logged, never
// propagated to the mutation that produced it.
type GormActivityLog struct {
	db *gorm.DB
}

func NewGormActivityLog(db *gorm.DB) *GormActivityLog {
	return &GormActivityLog{db: db}
}

func (l *GormActivityLog) Record(ctx context.Context, activity *models.Activity) {
	if err := l.db.WithContext(ctx).Create(activity).Error; err != nil {
		slog.Warn("failed to record activity", "type", activity.Type, "split_id", activity.SplitID, "error", err)
	}
}
