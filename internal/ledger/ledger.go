// Package ledger keeps per-user currency and gold balances.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gold-exchange-go/internal/fee"
	"gold-exchange-go/internal/models"
)

// Ledger applies trades to user balances and serves balance reads.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewLedger creates a new Ledger.
func NewLedger(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger.Named("ledger")}
}

// Settle moves the trade's currency and gold between buyer and seller inside a
// nested transaction on tx. The buyer pays notional + fee and receives the
// grams; the seller receives notional - fee and gives up the grams. Accounts
// are locked in ascending user id order and created empty when missing.
// Balances are allowed to go negative; that is only logged.
func (l *Ledger) Settle(tx *gorm.DB, trade *models.Trade) error {
	return tx.Transaction(func(tx *gorm.DB) error {
		accounts, err := lockAccounts(tx, trade.BuyerID, trade.SellerID)
		if err != nil {
			return err
		}
		buyer, seller := accounts[trade.BuyerID], accounts[trade.SellerID]

		notional := fee.NotionalMinor(trade.Amount, trade.PricePerUnit)
		buyerCurrency := -(notional + trade.Fee)
		sellerCurrency := notional - trade.Fee

		// buyer and seller may be the same account; deltas then net out.
		buyer.BalanceCurrency += buyerCurrency
		buyer.BalanceCommodity = buyer.BalanceCommodity.Add(trade.Amount)
		seller.BalanceCurrency += sellerCurrency
		seller.BalanceCommodity = seller.BalanceCommodity.Sub(trade.Amount)

		for _, userID := range sortedKeys(accounts) {
			account := accounts[userID]
			if err := tx.Save(account).Error; err != nil {
				return fmt.Errorf("failed to save account for user %d: %w", userID, err)
			}
			if account.BalanceCurrency < 0 || account.BalanceCommodity.IsNegative() {
				l.logger.Warn("Balance is negative after settlement",
					zap.Uint("user_id", userID),
					zap.Uint("trade_id", trade.ID),
					zap.Int64("balance_currency", account.BalanceCurrency),
					zap.String("balance_commodity", account.BalanceCommodity.String()),
				)
			}
		}

		entries := []models.LedgerEntry{
			{UserID: trade.BuyerID, TradeID: trade.ID, CurrencyDelta: buyerCurrency, CommodityDelta: trade.Amount},
			{UserID: trade.SellerID, TradeID: trade.ID, CurrencyDelta: sellerCurrency, CommodityDelta: trade.Amount.Neg()},
		}
		if err := tx.Create(&entries).Error; err != nil {
			return fmt.Errorf("failed to write ledger entries: %w", err)
		}
		return nil
	})
}

// Balance returns the user's account. A user who never traded has zero balances.
func (l *Ledger) Balance(ctx context.Context, userID uint) (*models.Account, error) {
	var account models.Account
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Account{UserID: userID, BalanceCommodity: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account for user %d: %w", userID, err)
	}
	return &account, nil
}

// Entries returns the user's most recent ledger movements, newest first.
func (l *Ledger) Entries(ctx context.Context, userID uint, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries for user %d: %w", userID, err)
	}
	return entries, nil
}

func lockAccounts(tx *gorm.DB, userIDs ...uint) (map[uint]*models.Account, error) {
	accounts := make(map[uint]*models.Account, len(userIDs))
	for _, id := range userIDs {
		accounts[id] = nil
	}

	for _, id := range sortedKeys(accounts) {
		account := &models.Account{}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(models.Account{UserID: id}).
			Attrs(models.Account{BalanceCommodity: decimal.Zero}).
			FirstOrCreate(account).Error
		if err != nil {
			return nil, fmt.Errorf("failed to lock account for user %d: %w", id, err)
		}
		accounts[id] = account
	}
	return accounts, nil
}

func sortedKeys(m map[uint]*models.Account) []uint {
	keys := make([]uint, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
