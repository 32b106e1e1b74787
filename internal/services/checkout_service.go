package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/payments"
	"github.com/MehdiDinari/homebook/internal/repository"
)

type paymentStore interface {
	Create(ctx context.Context, tx *models.PaymentTransaction) (*models.PaymentTransaction, error)
	GetByToken(ctx context.Context, token string, forUpdate bool) (*models.PaymentTransaction, error)
	ListByStudent(ctx context.Context, studentUserID int64, limit int) ([]models.PaymentTransaction, error)
	ListByTeacher(ctx context.Context, teacherUserID int64, limit int) ([]models.PaymentTransaction, error)
}

type topupStore interface {
	Create(ctx context.Context, tx *models.WalletTopupTransaction) (*models.WalletTopupTransaction, error)
	GetByToken(ctx context.Context, token string, forUpdate bool) (*models.WalletTopupTransaction, error)
	ListByStudent(ctx context.Context, studentUserID int64, limit int) ([]models.WalletTopupTransaction, error)
}

// CheckoutService runs hosted-checkout creation and confirmation for
// subscription purchases and wallet topups.
type CheckoutService struct {
	db         txBeginner
	users      userReader
	payments   paymentStore
	topups     topupStore
	gateway    *payments.Gateway
	aliases    models.RoleAliases
	currency   string
	successURL string
	cancelURL  string
	logger     *zap.Logger
}

func NewCheckoutService(
	db txBeginner,
	users userReader,
	paymentRepo paymentStore,
	topupRepo topupStore,
	gateway *payments.Gateway,
	aliases models.RoleAliases,
	currency, successURL, cancelURL string,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		db:         db,
		users:      users,
		payments:   paymentRepo,
		topups:     topupRepo,
		gateway:    gateway,
		aliases:    aliases,
		currency:   currency,
		successURL: successURL,
		cancelURL:  cancelURL,
		logger:     logger,
	}
}

// CreateCheckoutInput opens a money checkout for a subscription.
type CreateCheckoutInput struct {
	TeacherUserID    int64
	Months           int
	SessionsPerMonth int
	Provider         string
	SuccessURL       string
	CancelURL        string
}

func newCheckoutToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *CheckoutService) redirectURLs(successURL, cancelURL string) (string, string) {
	if successURL == "" {
		successURL = s.successURL
	}
	if cancelURL == "" {
		cancelURL = s.cancelURL
	}
	return successURL, cancelURL
}

// openCheckout resolves the provider and creates the hosted session,
// falling back to the mock rail when an auto-selected provider fails.
func (s *CheckoutService) openCheckout(ctx context.Context, requested string, req payments.CheckoutRequest) (payments.Provider, *payments.CheckoutSession, error) {
	provider, err := s.gateway.Resolve(requested)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	session, err := provider.CreateCheckout(ctx, req)
	if err == nil {
		return provider, session, nil
	}

	pinned := requested != "" && requested != payments.ProviderAuto
	if pinned {
		return nil, nil, err
	}

	s.logger.Warn("checkout provider failed, falling back to mock",
		zap.String("provider", provider.Name()),
		zap.Error(err),
	)
	mock := s.gateway.Mock()
	session, err = mock.CreateCheckout(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return mock, session, nil
}

// CreateCheckout opens a provider checkout and records the pending
// transaction under the provider's token.
func (s *CheckoutService) CreateCheckout(ctx context.Context, actor Actor, input CreateCheckoutInput) (*models.PaymentTransaction, error) {
	if input.Months <= 0 || input.SessionsPerMonth <= 0 {
		return nil, fmt.Errorf("%w: months and sessions_per_month must be positive", ErrInvalidInput)
	}
	if input.TeacherUserID == actor.ID() {
		return nil, fmt.Errorf("%w: cannot subscribe to yourself", ErrInvalidInput)
	}
	if !actor.Roles.Student && !actor.Roles.Admin {
		return nil, ErrForbidden
	}

	teacher, err := s.users.GetByID(ctx, input.TeacherUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("teacher not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load teacher: %w", err)
	}
	if !models.ResolveRoles(teacher.Roles, s.aliases).Teacher {
		return nil, fmt.Errorf("user %d is not a teacher: %w", teacher.ID, ErrInvalidInput)
	}

	cost := PointsCost(input.Months, input.SessionsPerMonth)
	amount := int64(cost) * CentsPerPoint
	successURL, cancelURL := s.redirectURLs(input.SuccessURL, input.CancelURL)

	provider, session, err := s.openCheckout(ctx, input.Provider, payments.CheckoutRequest{
		Token:       newCheckoutToken(),
		AmountCents: amount,
		Currency:    s.currency,
		Description: fmt.Sprintf("Subscription with %s (%d months)", teacher.DisplayName, input.Months),
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
	})
	if err != nil {
		return nil, err
	}

	created, err := s.payments.Create(ctx, &models.PaymentTransaction{
		StudentUserID:    actor.ID(),
		TeacherUserID:    input.TeacherUserID,
		Months:           input.Months,
		SessionsPerMonth: input.SessionsPerMonth,
		AmountCents:      amount,
		Currency:         s.currency,
		Provider:         provider.Name(),
		Status:           models.PaymentPending,
		CheckoutToken:    session.Token,
		CheckoutURL:      session.CheckoutURL,
		ProviderOrderID:  session.ProviderOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("record checkout: %w", err)
	}
	return created, nil
}

// CreateTopupInput opens a wallet topup checkout.
type CreateTopupInput struct {
	AmountCents int64
	Provider    string
	SuccessURL  string
	CancelURL   string
}

func (s *CheckoutService) CreateTopup(ctx context.Context, actor Actor, input CreateTopupInput) (*models.WalletTopupTransaction, error) {
	if input.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !actor.Roles.Student && !actor.Roles.Admin {
		return nil, ErrForbidden
	}

	successURL, cancelURL := s.redirectURLs(input.SuccessURL, input.CancelURL)
	provider, session, err := s.openCheckout(ctx, input.Provider, payments.CheckoutRequest{
		Token:       newCheckoutToken(),
		AmountCents: input.AmountCents,
		Currency:    s.currency,
		Description: fmt.Sprintf("Wallet topup (%d points)", PointsFromCents(input.AmountCents)),
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
	})
	if err != nil {
		return nil, err
	}

	created, err := s.topups.Create(ctx, &models.WalletTopupTransaction{
		StudentUserID:   actor.ID(),
		AmountCents:     input.AmountCents,
		Currency:        s.currency,
		Provider:        provider.Name(),
		Status:          models.PaymentPending,
		CheckoutToken:   session.Token,
		CheckoutURL:     session.CheckoutURL,
		ProviderOrderID: session.ProviderOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("record topup checkout: %w", err)
	}
	return created, nil
}

// ConfirmResult is the settled outcome of a checkout confirmation.
type ConfirmResult struct {
	Transaction  *models.PaymentTransaction `json:"transaction"`
	Subscription *models.Subscription       `json:"subscription,omitempty"`
}

// ConfirmCheckout verifies the provider-side payment and settles it:
// marks the row paid, credits the teacher, activates the subscription
// and writes the student's checkout debit. Re-running it is harmless.
func (s *CheckoutService) ConfirmCheckout(ctx context.Context, actor Actor, token string) (*ConfirmResult, error) {
	pending, err := s.payments.GetByToken(ctx, token, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("checkout token not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load checkout: %w", err)
	}
	if !actor.Roles.Admin && actor.ID() != pending.StudentUserID {
		return nil, ErrForbidden
	}

	var confirmed *payments.ConfirmResult
	if pending.Status == models.PaymentPending {
		provider, err := s.gateway.Resolve(pending.Provider)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		confirmed, err = provider.ConfirmCheckout(ctx, payments.ProviderTransaction{
			Token:           pending.CheckoutToken,
			ProviderOrderID: pending.ProviderOrderID,
			AmountCents:     pending.AmountCents,
			Currency:        pending.Currency,
		})
		if err != nil {
			return nil, err
		}
		if !confirmed.Paid {
			return nil, ErrPaymentNotCompleted
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockWallet(ctx, tx, lockClassStudentWallet, pending.StudentUserID); err != nil {
		return nil, err
	}

	paymentRepo := repository.NewPaymentRepository(tx)
	ledger := repository.NewLedgerRepository(tx)
	subs := repository.NewSubscriptionRepository(tx)

	payment, err := paymentRepo.GetByToken(ctx, token, true)
	if err != nil {
		return nil, fmt.Errorf("lock checkout: %w", err)
	}

	earnings, fee := SplitEarnings(payment.AmountCents)
	if payment.Status == models.PaymentPending {
		var captureID *string
		if confirmed != nil {
			captureID = confirmed.CaptureID
		}
		payment, err = paymentRepo.MarkPaidIfPending(ctx, payment.ID, earnings, fee, captureID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				payment, err = paymentRepo.GetByToken(ctx, token, true)
			}
			if err != nil {
				return nil, fmt.Errorf("mark checkout paid: %w", err)
			}
		}
	} else if payment.TeacherEarningsCents == 0 && payment.PlatformFeeCents == 0 && payment.AmountCents > 0 {
		if backfilled, err := paymentRepo.BackfillSplit(ctx, payment.ID, earnings, fee); err == nil && backfilled != nil {
			payment = backfilled
		} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("backfill split: %w", err)
		}
	}

	if _, err := CreditTeacherForPayment(ctx, ledger, payment); err != nil {
		return nil, fmt.Errorf("credit teacher: %w", err)
	}

	sub, _, err := EnsureActiveSubscription(ctx, subs, payment.TeacherUserID, payment.StudentUserID, payment.Months, payment.SessionsPerMonth)
	if err != nil {
		return nil, err
	}
	if payment.SubscriptionID == nil || *payment.SubscriptionID != sub.ID {
		if err := paymentRepo.LinkSubscription(ctx, payment.ID, sub.ID); err != nil {
			return nil, fmt.Errorf("link subscription: %w", err)
		}
		payment.SubscriptionID = &sub.ID
	}

	refType := "payment_transaction"
	refID := strconv.FormatInt(payment.ID, 10)
	if _, _, err := ledger.RecordWalletEntry(ctx, repository.RecordWalletEntryInput{
		Key: repository.EntryKey{
			SubjectID:     payment.StudentUserID,
			Direction:     models.DirectionDebit,
			Source:        "subscription_checkout",
			ReferenceType: &refType,
			ReferenceID:   &refID,
		},
		AmountCents: payment.AmountCents,
		PointsDelta: 0,
	}); err != nil {
		return nil, fmt.Errorf("record checkout debit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit confirm: %w", err)
	}

	s.logger.Info("checkout confirmed",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("subscription_id", sub.ID),
		zap.String("provider", payment.Provider),
	)
	return &ConfirmResult{Transaction: payment, Subscription: sub}, nil
}

// ConfirmTopup verifies and settles a wallet topup, crediting the
// student's points balance exactly once.
func (s *CheckoutService) ConfirmTopup(ctx context.Context, actor Actor, token string) (*models.WalletTopupTransaction, *models.StudentBalance, error) {
	pending, err := s.topups.GetByToken(ctx, token, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("topup token not found: %w", ErrNotFound)
		}
		return nil, nil, fmt.Errorf("load topup: %w", err)
	}
	if !actor.Roles.Admin && actor.ID() != pending.StudentUserID {
		return nil, nil, ErrForbidden
	}

	var confirmed *payments.ConfirmResult
	if pending.Status == models.PaymentPending {
		provider, err := s.gateway.Resolve(pending.Provider)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		confirmed, err = provider.ConfirmCheckout(ctx, payments.ProviderTransaction{
			Token:           pending.CheckoutToken,
			ProviderOrderID: pending.ProviderOrderID,
			AmountCents:     pending.AmountCents,
			Currency:        pending.Currency,
		})
		if err != nil {
			return nil, nil, err
		}
		if !confirmed.Paid {
			return nil, nil, ErrPaymentNotCompleted
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin topup confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockWallet(ctx, tx, lockClassStudentWallet, pending.StudentUserID); err != nil {
		return nil, nil, err
	}

	topupRepo := repository.NewTopupRepository(tx)
	ledger := repository.NewLedgerRepository(tx)

	topup, err := topupRepo.GetByToken(ctx, token, true)
	if err != nil {
		return nil, nil, fmt.Errorf("lock topup: %w", err)
	}

	if topup.Status == models.PaymentPending {
		var captureID *string
		if confirmed != nil {
			captureID = confirmed.CaptureID
		}
		topup, err = topupRepo.MarkPaidIfPending(ctx, topup.ID, captureID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				topup, err = topupRepo.GetByToken(ctx, token, true)
			}
			if err != nil {
				return nil, nil, fmt.Errorf("mark topup paid: %w", err)
			}
		}
	}

	points := PointsFromCents(topup.AmountCents)
	balance, err := ledger.EnsureStudentBalance(ctx, topup.StudentUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure student balance: %w", err)
	}

	refType := "wallet_topup_transaction"
	refID := strconv.FormatInt(topup.ID, 10)
	_, credited, err := ledger.RecordWalletEntry(ctx, repository.RecordWalletEntryInput{
		Key: repository.EntryKey{
			SubjectID:     topup.StudentUserID,
			Direction:     models.DirectionCredit,
			Source:        "wallet_topup",
			ReferenceType: &refType,
			ReferenceID:   &refID,
		},
		AmountCents: topup.AmountCents,
		PointsDelta: points,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("record topup credit: %w", err)
	}
	if credited && points > 0 {
		balance, err = ledger.AdjustStudentBalance(ctx, topup.StudentUserID, points)
		if err != nil {
			return nil, nil, fmt.Errorf("credit student balance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit topup confirm: %w", err)
	}

	s.logger.Info("wallet topup confirmed",
		zap.Int64("topup_id", topup.ID),
		zap.Int("points", points),
	)
	return topup, balance, nil
}

// ListPayments returns the actor's checkout history on either side of
// the marketplace.
func (s *CheckoutService) ListPayments(ctx context.Context, actor Actor, subjectUserID int64, asTeacher bool) ([]models.PaymentTransaction, error) {
	if !actor.Roles.Admin && actor.ID() != subjectUserID {
		return nil, ErrForbidden
	}
	if asTeacher {
		return s.payments.ListByTeacher(ctx, subjectUserID, 100)
	}
	return s.payments.ListByStudent(ctx, subjectUserID, 100)
}

// ListTopups returns the student's topup history.
func (s *CheckoutService) ListTopups(ctx context.Context, actor Actor, studentUserID int64) ([]models.WalletTopupTransaction, error) {
	if !actor.Roles.Admin && actor.ID() != studentUserID {
		return nil, ErrForbidden
	}
	return s.topups.ListByStudent(ctx, studentUserID, 100)
}
