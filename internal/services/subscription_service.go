package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/repository"
)

// Advisory lock classes serializing wallet mutations per user.
const (
	lockClassStudentWallet = int32(1)
	lockClassTeacherWallet = int32(2)
)

func lockWallet(ctx context.Context, tx pgx.Tx, class int32, userID int64) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1, $2)", class, int32(userID))
	if err != nil {
		return fmt.Errorf("acquire wallet lock: %w", err)
	}
	return nil
}

const subscriptionDays = 30

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	Upsert(ctx context.Context, input repository.UpsertUserInput) (*models.User, error)
}

type subscriptionReader interface {
	GetByID(ctx context.Context, id int64) (*models.Subscription, error)
	ListByStudent(ctx context.Context, studentUserID int64) ([]models.SubscriptionDetail, error)
	ListByTeacher(ctx context.Context, teacherUserID int64) ([]models.SubscriptionDetail, error)
	ExpireDue(ctx context.Context) (int64, error)
	UpdateStatusIfCurrent(ctx context.Context, id int64, current, next string) (*models.Subscription, error)
}

type SubscriptionService struct {
	db        txBeginner
	users     userReader
	subs      subscriptionReader
	directory DirectoryService
	aliases   models.RoleAliases
	currency  string
}

func NewSubscriptionService(
	db txBeginner,
	users userReader,
	subs subscriptionReader,
	directory DirectoryService,
	aliases models.RoleAliases,
	currency string,
) *SubscriptionService {
	return &SubscriptionService{
		db:        db,
		users:     users,
		subs:      subs,
		directory: directory,
		aliases:   aliases,
		currency:  currency,
	}
}

// SubscribeInput is a points-funded subscription purchase.
type SubscribeInput struct {
	TeacherUserID    int64
	Months           int
	SessionsPerMonth int
}

// SubscribeResult reports what the purchase produced.
type SubscribeResult struct {
	Subscription *models.Subscription   `json:"subscription"`
	Balance      *models.StudentBalance `json:"balance"`
	PointsCost   int                    `json:"points_cost"`
}

// Subscribe spends wallet points on a new subscription. The debit, the
// balance update, the subscription row and the settlement record all
// commit in one transaction. When the pair already has an active
// subscription the call is a no-op returning the existing row.
func (s *SubscriptionService) Subscribe(ctx context.Context, actor Actor, input SubscribeInput) (*SubscribeResult, error) {
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

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin subscribe: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockWallet(ctx, tx, lockClassStudentWallet, actor.ID()); err != nil {
		return nil, err
	}

	ledger := repository.NewLedgerRepository(tx)
	subs := repository.NewSubscriptionRepository(tx)
	payments := repository.NewPaymentRepository(tx)

	balance, err := ledger.EnsureStudentBalance(ctx, actor.ID())
	if err != nil {
		return nil, fmt.Errorf("ensure student balance: %w", err)
	}

	// A retry of an already-settled subscribe returns the existing pair
	// unchanged; nothing is charged again.
	if existing, err := subs.GetActivePair(ctx, input.TeacherUserID, actor.ID(), true); err == nil && existing != nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit subscribe: %w", err)
		}
		return &SubscribeResult{Subscription: existing, Balance: balance, PointsCost: existing.PointsCost}, nil
	} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check active subscription: %w", err)
	}

	if balance.Balance < cost {
		return nil, fmt.Errorf("%w: need %d points, have %d", ErrInsufficientBalance, cost, balance.Balance)
	}

	endsAt := time.Now().UTC().Add(subscriptionDays * time.Duration(input.Months) * 24 * time.Hour)
	sub, err := subs.Create(ctx, &models.Subscription{
		TeacherUserID:    input.TeacherUserID,
		StudentUserID:    actor.ID(),
		Months:           input.Months,
		SessionsPerMonth: input.SessionsPerMonth,
		PointsCost:       cost,
		Status:           models.SubscriptionActive,
		StartsAt:         time.Now().UTC(),
		EndsAt:           &endsAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	refType := "subscription"
	refID := strconv.FormatInt(sub.ID, 10)
	_, charged, err := ledger.RecordWalletEntry(ctx, repository.RecordWalletEntryInput{
		Key: repository.EntryKey{
			SubjectID:     actor.ID(),
			Direction:     models.DirectionDebit,
			Source:        "points_subscription",
			ReferenceType: &refType,
			ReferenceID:   &refID,
		},
		AmountCents: int64(cost) * CentsPerPoint,
		PointsDelta: -cost,
	})
	if err != nil {
		return nil, fmt.Errorf("record subscription debit: %w", err)
	}
	if charged {
		balance, err = ledger.AdjustStudentBalance(ctx, actor.ID(), -cost)
		if err != nil {
			return nil, fmt.Errorf("debit student balance: %w", err)
		}
	}

	if err := s.settleWalletPointsPayment(ctx, ledger, payments, sub, actor.ID()); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit subscribe: %w", err)
	}

	return &SubscribeResult{Subscription: sub, Balance: balance, PointsCost: cost}, nil
}

// settleWalletPointsPayment records the points purchase as a paid
// transaction and credits the teacher, mirroring what a money checkout
// produces so every earnings view sees one shape.
func (s *SubscriptionService) settleWalletPointsPayment(
	ctx context.Context,
	ledger *repository.LedgerRepository,
	payments *repository.PaymentRepository,
	sub *models.Subscription,
	studentUserID int64,
) error {
	existing, err := payments.FindPaidForSubscription(ctx, sub.ID, models.ProviderWalletPoints)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("find wallet points payment: %w", err)
	}
	if existing != nil {
		return nil
	}

	amount := int64(sub.PointsCost) * CentsPerPoint
	earnings, fee := SplitEarnings(amount)
	now := time.Now().UTC()
	token := "wallet_points_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	created, err := payments.Create(ctx, &models.PaymentTransaction{
		StudentUserID:        studentUserID,
		TeacherUserID:        sub.TeacherUserID,
		SubscriptionID:       &sub.ID,
		Months:               sub.Months,
		SessionsPerMonth:     sub.SessionsPerMonth,
		AmountCents:          amount,
		Currency:             s.currency,
		Provider:             models.ProviderWalletPoints,
		Status:               models.PaymentPaid,
		CheckoutToken:        token,
		CheckoutURL:          fmt.Sprintf("wallet://points/subscription/%d", sub.ID),
		PaidAt:               &now,
		TeacherEarningsCents: earnings,
		PlatformFeeCents:     fee,
	})
	if err != nil {
		return fmt.Errorf("record wallet points payment: %w", err)
	}

	if _, err := CreditTeacherForPayment(ctx, ledger, created); err != nil {
		return fmt.Errorf("credit teacher: %w", err)
	}
	return nil
}

// EnsureActiveSubscription returns the active pair or creates it, used
// by checkout confirmation where the money already changed hands.
func EnsureActiveSubscription(
	ctx context.Context,
	subs *repository.SubscriptionRepository,
	teacherUserID, studentUserID int64,
	months, sessionsPerMonth int,
) (*models.Subscription, bool, error) {
	existing, err := subs.GetActivePair(ctx, teacherUserID, studentUserID, true)
	if err == nil && existing != nil {
		return existing, false, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("check active subscription: %w", err)
	}

	endsAt := time.Now().UTC().Add(subscriptionDays * time.Duration(months) * 24 * time.Hour)
	created, err := subs.Create(ctx, &models.Subscription{
		TeacherUserID:    teacherUserID,
		StudentUserID:    studentUserID,
		Months:           months,
		SessionsPerMonth: sessionsPerMonth,
		PointsCost:       PointsCost(months, sessionsPerMonth),
		Status:           models.SubscriptionActive,
		StartsAt:         time.Now().UTC(),
		EndsAt:           &endsAt,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create subscription: %w", err)
	}
	return created, true, nil
}

// ListMine returns the actor's subscriptions as a student.
func (s *SubscriptionService) ListMine(ctx context.Context, actor Actor) ([]models.SubscriptionDetail, error) {
	return s.subs.ListByStudent(ctx, actor.ID())
}

// ListForTeacher returns the subscriptions pointing at a teacher.
func (s *SubscriptionService) ListForTeacher(ctx context.Context, actor Actor, teacherUserID int64) ([]models.SubscriptionDetail, error) {
	if !actor.Roles.Admin && actor.ID() != teacherUserID {
		return nil, ErrForbidden
	}
	return s.subs.ListByTeacher(ctx, teacherUserID)
}

// Cancel ends an active subscription without refund.
func (s *SubscriptionService) Cancel(ctx context.Context, actor Actor, subscriptionID int64) (*models.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("subscription not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if !actor.Roles.Admin && actor.ID() != sub.StudentUserID {
		return nil, ErrForbidden
	}
	if sub.Status != models.SubscriptionActive {
		return nil, fmt.Errorf("%w: subscription is %s", ErrConflict, sub.Status)
	}

	updated, err := s.subs.UpdateStatusIfCurrent(ctx, subscriptionID, models.SubscriptionActive, models.SubscriptionCancelled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: subscription changed concurrently", ErrConflict)
		}
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	return updated, nil
}

// ExpireDue sweeps lapsed subscriptions; admin only.
func (s *SubscriptionService) ExpireDue(ctx context.Context, actor Actor) (int64, error) {
	if !actor.Roles.Admin {
		return 0, ErrForbidden
	}
	return s.subs.ExpireDue(ctx)
}

// ListTeachers resolves the teacher roster from the directory and keeps
// the local shadows fresh.
func (s *SubscriptionService) ListTeachers(ctx context.Context, roleAlias string) ([]models.User, error) {
	if roleAlias == "" {
		roleAlias = "teacher"
	}
	accounts, err := s.directory.ListByRole(ctx, roleAlias)
	if err != nil {
		return nil, fmt.Errorf("list directory teachers: %w", err)
	}

	teachers := make([]models.User, 0, len(accounts))
	for _, account := range accounts {
		user, err := s.users.Upsert(ctx, repository.UpsertUserInput{
			DirectoryUserID: account.ID,
			Email:           account.Email,
			DisplayName:     account.DisplayName,
			Roles:           account.Roles,
		})
		if err != nil {
			return nil, fmt.Errorf("upsert teacher shadow: %w", err)
		}
		teachers = append(teachers, *user)
	}
	return teachers, nil
}
