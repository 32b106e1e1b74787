package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/payments"
)

type stubPaymentStore struct {
	created *models.PaymentTransaction
	byToken *models.PaymentTransaction
	getErr  error

	lastCreate *models.PaymentTransaction
}

func (s *stubPaymentStore) Create(_ context.Context, tx *models.PaymentTransaction) (*models.PaymentTransaction, error) {
	s.lastCreate = tx
	if s.created != nil {
		return s.created, nil
	}
	out := *tx
	out.ID = 1
	return &out, nil
}

func (s *stubPaymentStore) GetByToken(_ context.Context, _ string, _ bool) (*models.PaymentTransaction, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.byToken, nil
}

func (s *stubPaymentStore) ListByStudent(_ context.Context, _ int64, _ int) ([]models.PaymentTransaction, error) {
	return nil, nil
}

func (s *stubPaymentStore) ListByTeacher(_ context.Context, _ int64, _ int) ([]models.PaymentTransaction, error) {
	return nil, nil
}

type stubTopupStore struct {
	byToken *models.WalletTopupTransaction
	getErr  error

	lastCreate *models.WalletTopupTransaction
}

func (s *stubTopupStore) Create(_ context.Context, tx *models.WalletTopupTransaction) (*models.WalletTopupTransaction, error) {
	s.lastCreate = tx
	out := *tx
	out.ID = 1
	return &out, nil
}

func (s *stubTopupStore) GetByToken(_ context.Context, _ string, _ bool) (*models.WalletTopupTransaction, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.byToken, nil
}

func (s *stubTopupStore) ListByStudent(_ context.Context, _ int64, _ int) ([]models.WalletTopupTransaction, error) {
	return nil, nil
}

func newTestCheckoutService(users *stubUserReader, paymentRepo *stubPaymentStore, topupRepo *stubTopupStore) *CheckoutService {
	return NewCheckoutService(
		nil,
		users,
		paymentRepo,
		topupRepo,
		payments.NewGateway(nil, nil),
		models.NewRoleAliases("", ""),
		"EUR",
		"https://example.com/paiement-ok/",
		"https://example.com/paiement-annule/",
		zap.NewNop(),
	)
}

func TestCreateCheckoutValidatesInput(t *testing.T) {
	service := newTestCheckoutService(&stubUserReader{user: teacherUser(7)}, &stubPaymentStore{}, &stubTopupStore{})

	_, err := service.CreateCheckout(context.Background(), studentActor(42), CreateCheckoutInput{TeacherUserID: 7, Months: 0, SessionsPerMonth: 4})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	_, err = service.CreateCheckout(context.Background(), studentActor(42), CreateCheckoutInput{TeacherUserID: 42, Months: 1, SessionsPerMonth: 4})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for self-checkout, got %v", err)
	}

	_, err = service.CreateCheckout(context.Background(), teacherActor(9), CreateCheckoutInput{TeacherUserID: 7, Months: 1, SessionsPerMonth: 4})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateCheckoutRejectsPinnedUnconfiguredProvider(t *testing.T) {
	service := newTestCheckoutService(&stubUserReader{user: teacherUser(7)}, &stubPaymentStore{}, &stubTopupStore{})

	_, err := service.CreateCheckout(context.Background(), studentActor(42), CreateCheckoutInput{
		TeacherUserID: 7, Months: 1, SessionsPerMonth: 4, Provider: payments.ProviderStripe,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateCheckoutRecordsPendingMockTransaction(t *testing.T) {
	paymentRepo := &stubPaymentStore{}
	service := newTestCheckoutService(&stubUserReader{user: teacherUser(7)}, paymentRepo, &stubTopupStore{})

	created, err := service.CreateCheckout(context.Background(), studentActor(42), CreateCheckoutInput{
		TeacherUserID: 7, Months: 2, SessionsPerMonth: 4,
	})
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if created.Status != models.PaymentPending {
		t.Fatalf("expected pending, got %q", created.Status)
	}
	if created.Provider != payments.ProviderMock {
		t.Fatalf("expected mock provider, got %q", created.Provider)
	}
	if created.AmountCents != 4000 {
		t.Fatalf("expected 4000 cents for 40 points, got %d", created.AmountCents)
	}
	if paymentRepo.lastCreate.CheckoutToken == "" {
		t.Fatalf("expected a checkout token")
	}
	if !strings.Contains(paymentRepo.lastCreate.CheckoutURL, "checkout_token=") {
		t.Fatalf("expected token in checkout url, got %q", paymentRepo.lastCreate.CheckoutURL)
	}
}

func TestCreateTopupValidatesAmount(t *testing.T) {
	service := newTestCheckoutService(&stubUserReader{}, &stubPaymentStore{}, &stubTopupStore{})

	if _, err := service.CreateTopup(context.Background(), studentActor(42), CreateTopupInput{AmountCents: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := service.CreateTopup(context.Background(), teacherActor(7), CreateTopupInput{AmountCents: 1000}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestConfirmCheckoutUnknownToken(t *testing.T) {
	service := newTestCheckoutService(&stubUserReader{}, &stubPaymentStore{getErr: pgx.ErrNoRows}, &stubTopupStore{})

	_, err := service.ConfirmCheckout(context.Background(), studentActor(42), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfirmCheckoutForbidsOtherStudents(t *testing.T) {
	paymentRepo := &stubPaymentStore{byToken: &models.PaymentTransaction{
		ID: 1, StudentUserID: 99, TeacherUserID: 7, Status: models.PaymentPending, CheckoutToken: "tok",
	}}
	service := newTestCheckoutService(&stubUserReader{}, paymentRepo, &stubTopupStore{})

	if _, err := service.ConfirmCheckout(context.Background(), studentActor(42), "tok"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestConfirmTopupForbidsOtherStudents(t *testing.T) {
	topupRepo := &stubTopupStore{byToken: &models.WalletTopupTransaction{
		ID: 1, StudentUserID: 99, Status: models.PaymentPending, CheckoutToken: "tok",
	}}
	service := newTestCheckoutService(&stubUserReader{}, &stubPaymentStore{}, topupRepo)

	if _, _, err := service.ConfirmTopup(context.Background(), studentActor(42), "tok"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestListPaymentsForbidsOtherSubjects(t *testing.T) {
	service := newTestCheckoutService(&stubUserReader{}, &stubPaymentStore{}, &stubTopupStore{})

	if _, err := service.ListPayments(context.Background(), studentActor(42), 43, false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := service.ListTopups(context.Background(), studentActor(42), 43); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
