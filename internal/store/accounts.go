package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/telegram-cli/telegram-cli/internal/model"
)

// ListAccounts returns every registered account, active or not — the
// Account Supervisor filters on IsActive itself at startup (spec.md §4.6).
func (a *AccountDB) ListAccounts() ([]model.Account, error) {
	var accounts []model.Account
	if err := a.DB.Order("id").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// GetAccountByUserID looks up a registered account by its resolved Telegram
// user id, the key used for duplicate-account merge detection (spec.md
// §4.6).
func (a *AccountDB) GetAccountByUserID(userID int64) (*model.Account, error) {
	var acc model.Account
	err := a.DB.Where("user_id = ?", userID).First(&acc).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by user id %d: %w", userID, err)
	}
	return &acc, nil
}

// UpsertAccount inserts or updates an account record keyed by ID.
func (a *AccountDB) UpsertAccount(acc model.Account) error {
	err := a.DB.Save(&acc).Error
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", acc.ID, err)
	}
	return nil
}

// DeactivateAccount marks an account inactive without deleting it, used
// when a duplicate login is detected and merged away (spec.md §4.6).
func (a *AccountDB) DeactivateAccount(id string) error {
	err := a.DB.Model(&model.Account{}).Where("id = ?", id).Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("deactivate account %s: %w", id, err)
	}
	return nil
}
