package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/SheetWithoutShit/sws-collector/models"
)

var (
	// ErrTransactionExists reports that a transaction with the same provider
	// id was already persisted. The upstream webhook retries deliveries, so
	// callers branch on this instead of treating it as a hard failure.
	ErrTransactionExists = errors.New("storage: transaction already exists")
	// ErrCategoryNotFound reports that no category is configured for an MCC code.
	ErrCategoryNotFound = errors.New("storage: mcc category not found")
	// ErrLimitNotFound reports that the user has no limit covering the code.
	ErrLimitNotFound = errors.New("storage: limit not found")
	// ErrUserNotFound reports an unknown user id.
	ErrUserNotFound = errors.New("storage: user not found")
)

// CategoryLimit is a configured spend ceiling joined with its category.
type CategoryLimit struct {
	CategoryID   int64
	CategoryName string
	Amount       float64
}

// Store runs every database query the collector depends on.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateTransaction persists one statement exactly once. The epoch timestamp
// is converted to an absolute time before the write. A second insert with the
// same statement id returns ErrTransactionExists; anything else is wrapped
// with the user and transaction identity for manual replay.
func (s *Store) CreateTransaction(ctx context.Context, userID int64, mccCode int, stmt models.Statement) error {
	record := models.Transaction{
		ID:        stmt.ID,
		UserID:    userID,
		Amount:    stmt.Amount,
		Balance:   stmt.Balance,
		Cashback:  stmt.Cashback,
		MCC:       mccCode,
		Timestamp: time.Unix(stmt.Timestamp, 0),
		Info:      stmt.Info,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isDuplicate(err) {
			return ErrTransactionExists
		}
		return fmt.Errorf("create transaction %s for user %d: %w", stmt.ID, userID, err)
	}
	return nil
}

// MCCCodes returns every known merchant category code.
func (s *Store) MCCCodes(ctx context.Context) ([]int, error) {
	var codes []int
	err := s.db.WithContext(ctx).Model(&models.MCC{}).Pluck("code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("select mcc codes: %w", err)
	}
	return codes, nil
}

// MCCCategoryName resolves the category name configured for an MCC code.
func (s *Store) MCCCategoryName(ctx context.Context, code int) (string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&models.MCC{}).
		Joins("join mcc_categories on mcc_categories.id = mccs.category_id").
		Where("mccs.code = ?", code).
		Limit(1).
		Pluck("mcc_categories.name", &names).Error
	if err != nil {
		return "", fmt.Errorf("select mcc category for code %d: %w", code, err)
	}
	if len(names) == 0 {
		return "", ErrCategoryNotFound
	}
	return names[0], nil
}

// UserByID fetches the user owning a webhook token.
func (s *Store) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user %d: %w", userID, err)
	}
	return &user, nil
}

// LimitByCode returns the user's spend limit for the category containing the
// MCC code, joined with the category name for notification rendering.
func (s *Store) LimitByCode(ctx context.Context, userID int64, code int) (*CategoryLimit, error) {
	var limit CategoryLimit
	result := s.db.WithContext(ctx).Model(&models.Limit{}).
		Select("limits.category_id as category_id, limits.amount as amount, mcc_categories.name as category_name").
		Joins("join mcc_categories on mcc_categories.id = limits.category_id").
		Joins("join mccs on mccs.category_id = limits.category_id").
		Where("limits.user_id = ? AND mccs.code = ?", userID, code).
		Limit(1).
		Scan(&limit)
	if result.Error != nil {
		return nil, fmt.Errorf("select limit for user %d code %d: %w", userID, code, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrLimitNotFound
	}
	return &limit, nil
}

// CategorySpend sums the user's debit amounts for one category over a window
// and returns the absolute value. Credits are excluded.
func (s *Store) CategorySpend(ctx context.Context, userID, categoryID int64, from, to time.Time) (float64, error) {
	var spend float64
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("coalesce(abs(sum(transactions.amount)), 0)").
		Joins("join mccs on mccs.code = transactions.mcc").
		Where("transactions.user_id = ?", userID).
		Where("mccs.category_id = ?", categoryID).
		Where("transactions.timestamp between ? and ?", from, to).
		Where("transactions.amount < 0").
		Scan(&spend).Error
	if err != nil {
		return 0, fmt.Errorf("select category %d spend for user %d: %w", categoryID, userID, err)
	}
	return spend, nil
}

// isDuplicate classifies a write error as an identity conflict. The string
// checks cover drivers that predate gorm's error translation.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
