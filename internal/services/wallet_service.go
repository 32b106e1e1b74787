package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/repository"
)

// txBeginner opens database transactions; satisfied by *pgxpool.Pool.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Actor is the resolved caller of a service operation.
type Actor struct {
	User  *models.User
	Roles models.RoleSet
}

func (a Actor) ID() int64 {
	if a.User == nil {
		return 0
	}
	return a.User.ID
}

type ledgerStore interface {
	RecordWalletEntry(ctx context.Context, input repository.RecordWalletEntryInput) (*models.WalletEntry, bool, error)
	RecordTeacherEntry(ctx context.Context, input repository.RecordTeacherEntryInput) (*models.TeacherWalletEntry, error)
	TeacherNetCents(ctx context.Context, teacherUserID int64) (int64, error)
	StudentLedgerTotals(ctx context.Context, studentUserID int64) (deposited, spent int64, err error)
	ListWalletEntries(ctx context.Context, studentUserID int64, limit int) ([]models.WalletEntry, error)
	ListTeacherEntries(ctx context.Context, teacherUserID int64, limit int) ([]models.TeacherWalletEntry, error)
	EnsureStudentBalance(ctx context.Context, studentUserID int64) (*models.StudentBalance, error)
	AdjustStudentBalance(ctx context.Context, studentUserID int64, delta int) (*models.StudentBalance, error)
}

type paymentAggregator interface {
	TeacherEarnings(ctx context.Context, teacherUserID int64) (gross, earnings, fee int64, count int, err error)
	PlatformRevenue(ctx context.Context) (gross, earnings, fee int64, count int, err error)
	StudentPaidStats(ctx context.Context, studentUserID int64) (paidCount int, refundedCents int64, err error)
	ListPaidByTeacher(ctx context.Context, teacherUserID int64) ([]models.PaymentTransaction, error)
}

type withdrawalAggregator interface {
	PendingCents(ctx context.Context, teacherUserID int64) (int64, error)
	PaidCents(ctx context.Context, teacherUserID int64) (int64, error)
}

type WalletService struct {
	db          txBeginner
	ledger      ledgerStore
	payments    paymentAggregator
	withdrawals withdrawalAggregator
	currency    string
	logger      *zap.Logger
}

func NewWalletService(
	db txBeginner,
	ledger ledgerStore,
	payments paymentAggregator,
	withdrawals withdrawalAggregator,
	currency string,
	logger *zap.Logger,
) *WalletService {
	return &WalletService{
		db:          db,
		ledger:      ledger,
		payments:    payments,
		withdrawals: withdrawals,
		currency:    currency,
		logger:      logger,
	}
}

// StudentWallet is the balance plus recent ledger history.
type StudentWallet struct {
	Balance *models.StudentBalance `json:"balance"`
	Entries []models.WalletEntry   `json:"entries"`
}

func (s *WalletService) canActFor(actor Actor, subjectUserID int64) bool {
	return actor.Roles.Admin || actor.ID() == subjectUserID
}

// GetStudentWallet returns the points balance and recent entries. The
// balance row is created with the default grant on first read.
func (s *WalletService) GetStudentWallet(ctx context.Context, actor Actor, studentUserID int64) (*StudentWallet, error) {
	if !s.canActFor(actor, studentUserID) {
		return nil, ErrForbidden
	}

	balance, err := s.ledger.EnsureStudentBalance(ctx, studentUserID)
	if err != nil {
		return nil, fmt.Errorf("ensure student balance: %w", err)
	}
	entries, err := s.ledger.ListWalletEntries(ctx, studentUserID, 100)
	if err != nil {
		return nil, fmt.Errorf("list wallet entries: %w", err)
	}
	return &StudentWallet{Balance: balance, Entries: entries}, nil
}

// StudentMoney aggregates a student's monetary history.
func (s *WalletService) StudentMoney(ctx context.Context, actor Actor, studentUserID int64) (*models.StudentMoney, error) {
	if !s.canActFor(actor, studentUserID) {
		return nil, ErrForbidden
	}

	deposited, spent, err := s.ledger.StudentLedgerTotals(ctx, studentUserID)
	if err != nil {
		return nil, fmt.Errorf("student ledger totals: %w", err)
	}
	paidCount, refunded, err := s.payments.StudentPaidStats(ctx, studentUserID)
	if err != nil {
		return nil, fmt.Errorf("student paid stats: %w", err)
	}
	balance, err := s.ledger.EnsureStudentBalance(ctx, studentUserID)
	if err != nil {
		return nil, fmt.Errorf("ensure student balance: %w", err)
	}

	return &models.StudentMoney{
		StudentUserID:    studentUserID,
		Currency:         s.currency,
		DepositedCents:   deposited,
		SpentCents:       spent,
		RefundedCents:    refunded,
		PaidTransactions: paidCount,
		PointsBalance:    balance.Balance,
	}, nil
}

// TeacherEarnings sums the teacher's paid transactions.
func (s *WalletService) TeacherEarnings(ctx context.Context, actor Actor, teacherUserID int64) (*models.TeacherEarnings, error) {
	if !s.canActFor(actor, teacherUserID) {
		return nil, ErrForbidden
	}

	gross, earnings, fee, count, err := s.payments.TeacherEarnings(ctx, teacherUserID)
	if err != nil {
		return nil, fmt.Errorf("teacher earnings: %w", err)
	}
	return &models.TeacherEarnings{
		TeacherUserID:    teacherUserID,
		Currency:         s.currency,
		GrossCents:       gross,
		EarningsCents:    earnings,
		PlatformFeeCents: fee,
		PaidTransactions: count,
	}, nil
}

// PlatformRevenue is the admin-only platform-wide summary.
func (s *WalletService) PlatformRevenue(ctx context.Context, actor Actor) (*models.PlatformRevenue, error) {
	if !actor.Roles.Admin {
		return nil, ErrForbidden
	}

	gross, earnings, fee, count, err := s.payments.PlatformRevenue(ctx)
	if err != nil {
		return nil, fmt.Errorf("platform revenue: %w", err)
	}
	return &models.PlatformRevenue{
		Currency:             s.currency,
		GrossCents:           gross,
		TeacherEarningsCents: earnings,
		PlatformFeeCents:     fee,
		PaidTransactions:     count,
	}, nil
}

// TeacherWallet builds the settlement view. Available funds come from
// the ledger net, clamped at zero for display.
func (s *WalletService) TeacherWallet(ctx context.Context, actor Actor, teacherUserID int64) (*models.TeacherWallet, error) {
	if !s.canActFor(actor, teacherUserID) {
		return nil, ErrForbidden
	}

	_, earned, _, _, err := s.payments.TeacherEarnings(ctx, teacherUserID)
	if err != nil {
		return nil, fmt.Errorf("teacher earnings: %w", err)
	}
	withdrawn, err := s.withdrawals.PaidCents(ctx, teacherUserID)
	if err != nil {
		return nil, fmt.Errorf("paid withdrawals: %w", err)
	}
	pending, err := s.withdrawals.PendingCents(ctx, teacherUserID)
	if err != nil {
		return nil, fmt.Errorf("pending withdrawals: %w", err)
	}
	available, err := s.ledger.TeacherNetCents(ctx, teacherUserID)
	if err != nil {
		return nil, fmt.Errorf("teacher ledger net: %w", err)
	}
	if available < 0 {
		available = 0
	}

	return &models.TeacherWallet{
		TeacherUserID:           teacherUserID,
		Currency:                s.currency,
		TotalEarnedCents:        earned,
		TotalWithdrawnCents:     withdrawn,
		PendingWithdrawalsCents: pending,
		AvailableCents:          available,
	}, nil
}

// ListTeacherEntries returns recent teacher ledger history.
func (s *WalletService) ListTeacherEntries(ctx context.Context, actor Actor, teacherUserID int64) ([]models.TeacherWalletEntry, error) {
	if !s.canActFor(actor, teacherUserID) {
		return nil, ErrForbidden
	}
	entries, err := s.ledger.ListTeacherEntries(ctx, teacherUserID, 100)
	if err != nil {
		return nil, fmt.Errorf("list teacher entries: %w", err)
	}
	return entries, nil
}

// CreditTeacherForPayment writes the teacher's share of a paid
// transaction onto the teacher ledger. Safe to call more than once for
// the same transaction.
func CreditTeacherForPayment(ctx context.Context, ledger ledgerStore, tx *models.PaymentTransaction) (*models.TeacherWalletEntry, error) {
	earnings := tx.TeacherEarningsCents
	if earnings <= 0 {
		earnings, _ = SplitEarnings(tx.AmountCents)
	}
	refType := "payment_transaction"
	refID := strconv.FormatInt(tx.ID, 10)
	return ledger.RecordTeacherEntry(ctx, repository.RecordTeacherEntryInput{
		Key: repository.EntryKey{
			SubjectID:     tx.TeacherUserID,
			Direction:     models.DirectionCredit,
			Source:        "course_payment",
			ReferenceType: &refType,
			ReferenceID:   &refID,
		},
		AmountCents: earnings,
	})
}

// ReconcileTeacherWallet backfills missing teacher credits from paid
// transactions. Returns how many transactions were examined and how many
// cents the sweep added to the ledger.
func (s *WalletService) ReconcileTeacherWallet(ctx context.Context, actor Actor, teacherUserID int64) (examined int, creditedCents int64, err error) {
	if !actor.Roles.Admin && actor.ID() != teacherUserID {
		return 0, 0, ErrForbidden
	}

	paid, err := s.payments.ListPaidByTeacher(ctx, teacherUserID)
	if err != nil {
		return 0, 0, fmt.Errorf("list paid transactions: %w", err)
	}

	before, err := s.ledger.TeacherNetCents(ctx, teacherUserID)
	if err != nil {
		return 0, 0, fmt.Errorf("teacher ledger net: %w", err)
	}

	for i := range paid {
		if _, err := CreditTeacherForPayment(ctx, s.ledger, &paid[i]); err != nil {
			return len(paid), 0, fmt.Errorf("credit teacher for payment %d: %w", paid[i].ID, err)
		}
	}

	after, err := s.ledger.TeacherNetCents(ctx, teacherUserID)
	if err != nil {
		return len(paid), 0, fmt.Errorf("teacher ledger net: %w", err)
	}
	if after != before {
		s.logger.Info("teacher wallet reconciled",
			zap.Int64("teacher_user_id", teacherUserID),
			zap.Int64("net_before_cents", before),
			zap.Int64("net_after_cents", after),
		)
	}
	return len(paid), after - before, nil
}
