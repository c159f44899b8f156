package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletService is the read side of user wallets. Balances only change
// through EscrowLedger and PayoutProcessor.
type WalletService struct {
	store    QueryStore
	currency string
}

func NewWalletService(store QueryStore, currency string) *WalletService {
	return &WalletService{store: store, currency: currency}
}

// GetWallet returns the user's wallet. A user who was never credited has an
// empty wallet in the default currency.
func (s *WalletService) GetWallet(ctx context.Context, userID uuid.UUID) (models.WalletAccount, error) {
	wallet, err := s.store.Queries().GetWalletAccount(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WalletAccount{UserID: userID, Currency: s.currency}, nil
	}
	if err != nil {
		return models.WalletAccount{}, fmt.Errorf("load wallet: %w", err)
	}
	return wallet, nil
}

func (s *WalletService) ListWithdrawals(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.WithdrawalRequest, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize
	withdrawals, err := s.store.Queries().ListWithdrawalsByUser(ctx, userID, int32(pageSize), int32(offset))
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	if withdrawals == nil {
		withdrawals = []models.WithdrawalRequest{}
	}
	return withdrawals, nil
}

// GetWithdrawal returns one of the user's withdrawals. Other users'
// withdrawals are reported as not found.
func (s *WalletService) GetWithdrawal(ctx context.Context, userID, withdrawalID uuid.UUID) (models.WithdrawalRequest, error) {
	withdrawal, err := s.store.Queries().GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return models.WithdrawalRequest{}, notFound(err, "withdrawal")
	}
	if withdrawal.UserID != userID {
		return models.WithdrawalRequest{}, fmt.Errorf("withdrawal: %w", domain.ErrNotFound)
	}
	return withdrawal, nil
}
