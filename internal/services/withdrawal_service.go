package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/payments"
	"github.com/MehdiDinari/homebook/internal/repository"
)

type withdrawalStore interface {
	GetByID(ctx context.Context, id int64, forUpdate bool) (*models.WithdrawalRequest, error)
	ListByTeacher(ctx context.Context, teacherUserID int64, limit int) ([]models.WithdrawalRequest, error)
	ListAll(ctx context.Context, status string, limit int) ([]models.WithdrawalRequest, error)
}

// WithdrawalService moves teacher funds out. Creation holds the amount
// on the ledger immediately; settlement either pays out or reverses the
// hold.
type WithdrawalService struct {
	db          txBeginner
	withdrawals withdrawalStore
	gateway     *payments.Gateway
	currency    string
	logger      *zap.Logger
}

func NewWithdrawalService(
	db txBeginner,
	withdrawals withdrawalStore,
	gateway *payments.Gateway,
	currency string,
	logger *zap.Logger,
) *WithdrawalService {
	return &WithdrawalService{
		db:          db,
		withdrawals: withdrawals,
		gateway:     gateway,
		currency:    currency,
		logger:      logger,
	}
}

// CreateWithdrawalInput asks to move available funds out.
type CreateWithdrawalInput struct {
	AmountCents int64
	Method      string
	PayoutEmail *string
	Note        *string
}

func validMethod(method string) bool {
	switch method {
	case models.WithdrawMethodPayPal, models.WithdrawMethodManual, models.WithdrawMethodBank:
		return true
	}
	return false
}

// CreateWithdrawal checks available funds and writes the request plus
// its hold debit in one transaction, so two concurrent requests cannot
// both spend the same balance.
func (s *WithdrawalService) CreateWithdrawal(ctx context.Context, actor Actor, input CreateWithdrawalInput) (*models.WithdrawalRequest, error) {
	if !actor.Roles.Teacher && !actor.Roles.Admin {
		return nil, ErrForbidden
	}
	if input.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !validMethod(input.Method) {
		return nil, fmt.Errorf("%w: unknown withdrawal method %q", ErrInvalidInput, input.Method)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin withdrawal: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockWallet(ctx, tx, lockClassTeacherWallet, actor.ID()); err != nil {
		return nil, err
	}

	ledger := repository.NewLedgerRepository(tx)
	withdrawals := repository.NewWithdrawalRepository(tx)

	available, err := ledger.TeacherNetCents(ctx, actor.ID())
	if err != nil {
		return nil, fmt.Errorf("teacher ledger net: %w", err)
	}
	if input.AmountCents > available {
		return nil, fmt.Errorf("%w: requested %d cents, available %d", ErrInsufficientFunds, input.AmountCents, available)
	}

	request, err := withdrawals.Create(ctx, &models.WithdrawalRequest{
		TeacherUserID: actor.ID(),
		AmountCents:   input.AmountCents,
		Currency:      s.currency,
		Method:        input.Method,
		PayoutEmail:   input.PayoutEmail,
		Status:        models.WithdrawalPending,
		Note:          input.Note,
	})
	if err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}

	refType := "withdrawal_request"
	refID := strconv.FormatInt(request.ID, 10)
	if _, err := ledger.RecordTeacherEntry(ctx, repository.RecordTeacherEntryInput{
		Key: repository.EntryKey{
			SubjectID:     actor.ID(),
			Direction:     models.DirectionDebit,
			Source:        "withdraw_request_hold",
			ReferenceType: &refType,
			ReferenceID:   &refID,
		},
		AmountCents: input.AmountCents,
	}); err != nil {
		return nil, fmt.Errorf("record withdrawal hold: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit withdrawal: %w", err)
	}

	s.logger.Info("withdrawal requested",
		zap.Int64("withdrawal_id", request.ID),
		zap.Int64("amount_cents", request.AmountCents),
		zap.String("method", request.Method),
	)
	return request, nil
}

// UpdateWithdrawalInput is an admin (or owner-cancel) status change.
type UpdateWithdrawalInput struct {
	Status    string
	AdminNote *string
}

func validWithdrawalStatus(status string) bool {
	switch status {
	case models.WithdrawalPending, models.WithdrawalProcessing, models.WithdrawalPaid,
		models.WithdrawalRejected, models.WithdrawalCancelled:
		return true
	}
	return false
}

// UpdateWithdrawal drives the settlement state machine. Terminal rows
// never move again; a paid transition over the paypal method without an
// external reference triggers the payout rail first, so a rail failure
// leaves the request untouched.
func (s *WithdrawalService) UpdateWithdrawal(ctx context.Context, actor Actor, id int64, input UpdateWithdrawalInput) (*models.WithdrawalRequest, error) {
	if !validWithdrawalStatus(input.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, input.Status)
	}

	current, err := s.withdrawals.GetByID(ctx, id, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("withdrawal not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load withdrawal: %w", err)
	}

	if !actor.Roles.Admin {
		if actor.ID() != current.TeacherUserID {
			return nil, ErrForbidden
		}
		if input.Status != models.WithdrawalCancelled || current.Status != models.WithdrawalPending {
			return nil, ErrForbidden
		}
	}

	if current.Finalized() {
		return nil, fmt.Errorf("%w: withdrawal is %s", ErrAlreadyFinalized, current.Status)
	}
	if current.Status == input.Status {
		return current, nil
	}

	var payout *payments.PayoutResult
	if input.Status == models.WithdrawalPaid &&
		current.Method == models.WithdrawMethodPayPal &&
		(current.ExternalRef == nil || *current.ExternalRef == "") {
		payout, err = s.runPayout(ctx, current)
		if err != nil {
			return nil, err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin settle: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockWallet(ctx, tx, lockClassTeacherWallet, current.TeacherUserID); err != nil {
		return nil, err
	}

	withdrawals := repository.NewWithdrawalRepository(tx)
	ledger := repository.NewLedgerRepository(tx)

	locked, err := withdrawals.GetByID(ctx, id, true)
	if err != nil {
		return nil, fmt.Errorf("lock withdrawal: %w", err)
	}
	if locked.Finalized() {
		return nil, fmt.Errorf("%w: withdrawal is %s", ErrAlreadyFinalized, locked.Status)
	}

	update := repository.UpdateWithdrawalInput{
		Status:    input.Status,
		AdminNote: input.AdminNote,
	}
	switch input.Status {
	case models.WithdrawalPaid, models.WithdrawalRejected, models.WithdrawalCancelled:
		update.StampProcessed = true
	case models.WithdrawalPending, models.WithdrawalProcessing:
		update.ClearProcessed = true
	}
	if payout != nil {
		update.ExternalRef = &payout.ExternalRef
		note := "payout " + payout.Status
		if input.AdminNote != nil && *input.AdminNote != "" {
			note = *input.AdminNote + " (payout " + payout.Status + ")"
		}
		update.AdminNote = &note
	}

	updated, err := withdrawals.UpdateStatus(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("update withdrawal: %w", err)
	}

	// The reversal shares the hold's reference_type so a lookup by
	// (withdrawal_request, id) sees the full lifecycle; the source and
	// direction keep the dedup keys distinct.
	if input.Status == models.WithdrawalRejected || input.Status == models.WithdrawalCancelled {
		refType := "withdrawal_request"
		refID := strconv.FormatInt(id, 10)
		if _, err := ledger.RecordTeacherEntry(ctx, repository.RecordTeacherEntryInput{
			Key: repository.EntryKey{
				SubjectID:     locked.TeacherUserID,
				Direction:     models.DirectionCredit,
				Source:        "withdraw_request_reversal",
				ReferenceType: &refType,
				ReferenceID:   &refID,
			},
			AmountCents: locked.AmountCents,
		}); err != nil {
			return nil, fmt.Errorf("record withdrawal reversal: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settle: %w", err)
	}

	s.logger.Info("withdrawal updated",
		zap.Int64("withdrawal_id", id),
		zap.String("from", current.Status),
		zap.String("to", updated.Status),
	)
	return updated, nil
}

func (s *WithdrawalService) runPayout(ctx context.Context, request *models.WithdrawalRequest) (*payments.PayoutResult, error) {
	if request.PayoutEmail == nil || *request.PayoutEmail == "" {
		return nil, fmt.Errorf("%w: payout email is required for paypal withdrawals", ErrInvalidInput)
	}
	rail := s.gateway.Payouts(models.WithdrawMethodPayPal)
	if rail == nil {
		return nil, fmt.Errorf("%w: paypal payouts are not configured", ErrInvalidInput)
	}

	payout, err := rail.CreatePayout(ctx, payments.PayoutRequest{
		AmountCents: request.AmountCents,
		Currency:    request.Currency,
		Email:       *request.PayoutEmail,
		Note:        fmt.Sprintf("Withdrawal #%d", request.ID),
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// ListWithdrawals returns the teacher's own history, or any teacher's
// (and the platform-wide queue) for admins.
func (s *WithdrawalService) ListWithdrawals(ctx context.Context, actor Actor, teacherUserID int64, status string) ([]models.WithdrawalRequest, error) {
	if teacherUserID == 0 {
		if !actor.Roles.Admin {
			return nil, ErrForbidden
		}
		return s.withdrawals.ListAll(ctx, status, 200)
	}
	if !actor.Roles.Admin && actor.ID() != teacherUserID {
		return nil, ErrForbidden
	}
	return s.withdrawals.ListByTeacher(ctx, teacherUserID, 200)
}

// GetWithdrawal returns one request, owner or admin only.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, actor Actor, id int64) (*models.WithdrawalRequest, error) {
	request, err := s.withdrawals.GetByID(ctx, id, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("withdrawal not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load withdrawal: %w", err)
	}
	if !actor.Roles.Admin && actor.ID() != request.TeacherUserID {
		return nil, ErrForbidden
	}
	return request, nil
}
