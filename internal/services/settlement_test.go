package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"github.com/MehdiDinari/homebook/internal/models"
	"github.com/MehdiDinari/homebook/internal/payments"
)

// fakeTx stands in for a pgx transaction so settlement flows run
// end to end without a database. QueryRow dispatches on the SQL text;
// the embedded interface panics on anything the flow should not touch.
type fakeTx struct {
	pgx.Tx
	queryRowFn func(query string, args ...any) stubRow
	commits    int
	rollbacks  int
}

func (t *fakeTx) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	return t.queryRowFn(query, args...)
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.commits++
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.rollbacks++
	return nil
}

type fakeDB struct {
	tx *fakeTx
}

func (db *fakeDB) Begin(_ context.Context) (pgx.Tx, error) {
	return db.tx, nil
}

func balanceRow(points int) stubRow {
	return stubRow{values: []any{
		int64(1), int64(42), points, ledgerTestTime, ledgerTestTime,
	}}
}

func subscriptionRow(id int64, pointsCost int) stubRow {
	endsAt := ledgerTestTime.Add(30 * 24 * time.Hour)
	return stubRow{values: []any{
		id, int64(7), int64(42), 1, 4, pointsCost, models.SubscriptionActive,
		ledgerTestTime, &endsAt, ledgerTestTime, ledgerTestTime,
	}}
}

func walletEntryRow(direction string, amountCents int64, pointsDelta int) stubRow {
	return stubRow{values: []any{
		int64(21), int64(42), direction, amountCents, pointsDelta, "points_subscription",
		strPtr("subscription"), strPtr("12"), (*string)(nil), ledgerTestTime,
	}}
}

func paymentRow(id int64, subID *int64, status string, earnings, fee int64) stubRow {
	var paidAt *time.Time
	if status == models.PaymentPaid {
		at := ledgerTestTime
		paidAt = &at
	}
	return stubRow{values: []any{
		id, int64(42), int64(7), subID, 1, 4, int64(2000), "EUR", models.ProviderMock,
		status, "tok", "https://pay.example.com/tok", (*string)(nil), (*string)(nil),
		paidAt, earnings, fee, ledgerTestTime, ledgerTestTime,
	}}
}

func teacherEntryRow(amountCents int64) stubRow {
	return stubRow{values: []any{
		int64(3), int64(7), models.DirectionCredit, amountCents, "course_payment",
		strPtr("payment_transaction"), strPtr("31"), (*string)(nil), ledgerTestTime,
	}}
}

func withdrawalRow(status string, amountCents int64) stubRow {
	var processedAt *time.Time
	if status != models.WithdrawalPending && status != models.WithdrawalProcessing {
		at := ledgerTestTime
		processedAt = &at
	}
	return stubRow{values: []any{
		int64(5), int64(7), amountCents, "EUR", models.WithdrawMethodManual,
		(*string)(nil), status, (*string)(nil), (*string)(nil), (*string)(nil),
		processedAt, ledgerTestTime, ledgerTestTime,
	}}
}

func TestSubscribeReturnsExistingActivePair(t *testing.T) {
	tx := &fakeTx{}
	tx.queryRowFn = func(query string, _ ...any) stubRow {
		switch {
		case strings.Contains(query, "INSERT INTO subscriptions"):
			t.Fatalf("new subscription created despite existing active pair")
		case strings.Contains(query, "INSERT INTO wallet_ledger"):
			t.Fatalf("wallet debited on retried subscribe")
		case strings.Contains(query, "INSERT INTO student_balances"):
			return balanceRow(500)
		case strings.Contains(query, "FROM subscriptions"):
			return subscriptionRow(11, 20)
		}
		t.Fatalf("unexpected query: %s", query)
		return stubRow{}
	}

	service := NewSubscriptionService(&fakeDB{tx: tx}, &stubUserReader{user: teacherUser(7)}, &stubSubscriptionReader{}, nil, models.NewRoleAliases("", ""), "EUR")

	result, err := service.Subscribe(context.Background(), studentActor(42), SubscribeInput{TeacherUserID: 7, Months: 1, SessionsPerMonth: 4})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if result.Subscription.ID != 11 {
		t.Fatalf("expected existing subscription 11, got %d", result.Subscription.ID)
	}
	if result.Balance.Balance != 500 {
		t.Fatalf("balance moved on retry: %d", result.Balance.Balance)
	}
	if result.PointsCost != 20 {
		t.Fatalf("unexpected points cost %d", result.PointsCost)
	}
	if tx.commits != 1 {
		t.Fatalf("expected one commit, got %d", tx.commits)
	}
}

func TestSubscribeDebitsWalletAndSettlesOnce(t *testing.T) {
	var debitedPoints int
	var teacherCreditCents int64
	tx := &fakeTx{}
	tx.queryRowFn = func(query string, args ...any) stubRow {
		switch {
		case strings.Contains(query, "INSERT INTO student_balances"):
			return balanceRow(500)
		case strings.Contains(query, "INSERT INTO subscriptions"):
			return subscriptionRow(12, 20)
		case strings.Contains(query, "FROM subscriptions"):
			return stubRow{err: pgx.ErrNoRows}
		case strings.Contains(query, "INSERT INTO wallet_ledger"):
			debitedPoints = args[3].(int)
			return walletEntryRow(models.DirectionDebit, 2000, -20)
		case strings.Contains(query, "FROM wallet_ledger"):
			return stubRow{err: pgx.ErrNoRows}
		case strings.Contains(query, "UPDATE student_balances"):
			return balanceRow(480)
		case strings.Contains(query, "INSERT INTO payment_transactions"):
			subID := int64(12)
			return paymentRow(31, &subID, models.PaymentPaid, 1400, 600)
		case strings.Contains(query, "FROM payment_transactions"):
			return stubRow{err: pgx.ErrNoRows}
		case strings.Contains(query, "INSERT INTO teacher_wallet_ledger"):
			teacherCreditCents = args[2].(int64)
			return teacherEntryRow(1400)
		case strings.Contains(query, "FROM teacher_wallet_ledger"):
			return stubRow{err: pgx.ErrNoRows}
		}
		t.Fatalf("unexpected query: %s", query)
		return stubRow{}
	}

	service := NewSubscriptionService(&fakeDB{tx: tx}, &stubUserReader{user: teacherUser(7)}, &stubSubscriptionReader{}, nil, models.NewRoleAliases("", ""), "EUR")

	result, err := service.Subscribe(context.Background(), studentActor(42), SubscribeInput{TeacherUserID: 7, Months: 1, SessionsPerMonth: 4})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if result.PointsCost != 20 || result.Balance.Balance != 480 {
		t.Fatalf("unexpected settle: cost=%d balance=%d", result.PointsCost, result.Balance.Balance)
	}
	if debitedPoints != -20 {
		t.Fatalf("expected -20 points debit, got %d", debitedPoints)
	}
	if teacherCreditCents != 1400 {
		t.Fatalf("expected 1400 cents teacher credit, got %d", teacherCreditCents)
	}
	if tx.commits != 1 {
		t.Fatalf("expected one commit, got %d", tx.commits)
	}
}

func TestConfirmCheckoutTwiceKeepsSettlementStable(t *testing.T) {
	subID := int64(11)
	paid := &models.PaymentTransaction{
		ID: 31, StudentUserID: 42, TeacherUserID: 7, SubscriptionID: &subID,
		Months: 1, SessionsPerMonth: 4, AmountCents: 2000, Currency: "EUR",
		Provider: models.ProviderMock, Status: models.PaymentPaid, CheckoutToken: "tok",
		TeacherEarningsCents: 1400, PlatformFeeCents: 600,
	}
	tx := &fakeTx{}
	tx.queryRowFn = func(query string, _ ...any) stubRow {
		switch {
		case strings.Contains(query, "UPDATE payment_transactions"):
			t.Fatalf("paid transaction rewritten on confirm retry")
		case strings.Contains(query, "INSERT INTO teacher_wallet_ledger"):
			t.Fatalf("duplicate teacher credit on confirm retry")
		case strings.Contains(query, "INSERT INTO wallet_ledger"):
			t.Fatalf("duplicate checkout debit on confirm retry")
		case strings.Contains(query, "FROM payment_transactions"):
			return paymentRow(31, &subID, models.PaymentPaid, 1400, 600)
		case strings.Contains(query, "FROM teacher_wallet_ledger"):
			return teacherEntryRow(1400)
		case strings.Contains(query, "FROM subscriptions"):
			return subscriptionRow(11, 20)
		case strings.Contains(query, "FROM wallet_ledger"):
			return walletEntryRow(models.DirectionDebit, 2000, 0)
		}
		t.Fatalf("unexpected query: %s", query)
		return stubRow{}
	}

	service := NewCheckoutService(
		&fakeDB{tx: tx},
		&stubUserReader{},
		&stubPaymentStore{byToken: paid},
		&stubTopupStore{},
		payments.NewGateway(nil, nil),
		models.NewRoleAliases("", ""),
		"EUR",
		"https://example.com/paiement-ok/",
		"https://example.com/paiement-annule/",
		zap.NewNop(),
	)

	first, err := service.ConfirmCheckout(context.Background(), studentActor(42), "tok")
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	second, err := service.ConfirmCheckout(context.Background(), studentActor(42), "tok")
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if first.Transaction.ID != second.Transaction.ID || first.Subscription.ID != second.Subscription.ID {
		t.Fatalf("confirm retry diverged: first=(%d,%d) second=(%d,%d)",
			first.Transaction.ID, first.Subscription.ID, second.Transaction.ID, second.Subscription.ID)
	}
	if second.Transaction.Status != models.PaymentPaid {
		t.Fatalf("unexpected status %q", second.Transaction.Status)
	}
	if tx.commits != 2 {
		t.Fatalf("expected two commits, got %d", tx.commits)
	}
}

func TestConfirmCheckoutRereadsAfterConcurrentPaidTransition(t *testing.T) {
	subID := int64(11)
	pending := &models.PaymentTransaction{
		ID: 31, StudentUserID: 42, TeacherUserID: 7, Months: 1, SessionsPerMonth: 4,
		AmountCents: 2000, Currency: "EUR", Provider: models.ProviderMock,
		Status: models.PaymentPending, CheckoutToken: "tok",
	}
	var tokenReads, markPaidAttempts int
	tx := &fakeTx{}
	tx.queryRowFn = func(query string, _ ...any) stubRow {
		switch {
		case strings.Contains(query, "UPDATE payment_transactions"):
			markPaidAttempts++
			return stubRow{err: pgx.ErrNoRows}
		case strings.Contains(query, "FROM payment_transactions"):
			tokenReads++
			if tokenReads == 1 {
				return paymentRow(31, nil, models.PaymentPending, 0, 0)
			}
			return paymentRow(31, &subID, models.PaymentPaid, 1400, 600)
		case strings.Contains(query, "FROM teacher_wallet_ledger"):
			return teacherEntryRow(1400)
		case strings.Contains(query, "FROM subscriptions"):
			return subscriptionRow(11, 20)
		case strings.Contains(query, "FROM wallet_ledger"):
			return walletEntryRow(models.DirectionDebit, 2000, 0)
		}
		t.Fatalf("unexpected query: %s", query)
		return stubRow{}
	}

	service := NewCheckoutService(
		&fakeDB{tx: tx},
		&stubUserReader{},
		&stubPaymentStore{byToken: pending},
		&stubTopupStore{},
		payments.NewGateway(nil, nil),
		models.NewRoleAliases("", ""),
		"EUR",
		"https://example.com/paiement-ok/",
		"https://example.com/paiement-annule/",
		zap.NewNop(),
	)

	result, err := service.ConfirmCheckout(context.Background(), studentActor(42), "tok")
	if err != nil {
		t.Fatalf("ConfirmCheckout: %v", err)
	}
	if result.Transaction.Status != models.PaymentPaid {
		t.Fatalf("expected paid after re-read, got %q", result.Transaction.Status)
	}
	if markPaidAttempts != 1 || tokenReads != 2 {
		t.Fatalf("unexpected flow: markPaidAttempts=%d tokenReads=%d", markPaidAttempts, tokenReads)
	}
}

func TestRejectWithdrawalReversesHoldWithRequestReference(t *testing.T) {
	var reversalSource, reversalRefType, reversalDirection string
	var reversalCents int64
	tx := &fakeTx{}
	tx.queryRowFn = func(query string, args ...any) stubRow {
		switch {
		case strings.Contains(query, "UPDATE withdrawal_requests"):
			return withdrawalRow(models.WithdrawalRejected, 5000)
		case strings.Contains(query, "FROM withdrawal_requests"):
			return withdrawalRow(models.WithdrawalPending, 5000)
		case strings.Contains(query, "INSERT INTO teacher_wallet_ledger"):
			reversalDirection = args[1].(string)
			reversalCents = args[2].(int64)
			reversalSource = args[3].(string)
			reversalRefType = *args[4].(*string)
			return stubRow{values: []any{
				int64(9), int64(7), models.DirectionCredit, int64(5000), "withdraw_request_reversal",
				strPtr("withdrawal_request"), strPtr("5"), (*string)(nil), ledgerTestTime,
			}}
		case strings.Contains(query, "FROM teacher_wallet_ledger"):
			return stubRow{err: pgx.ErrNoRows}
		}
		t.Fatalf("unexpected query: %s", query)
		return stubRow{}
	}

	store := &stubWithdrawalStore{request: &models.WithdrawalRequest{
		ID: 5, TeacherUserID: 7, AmountCents: 5000, Currency: "EUR",
		Method: models.WithdrawMethodManual, Status: models.WithdrawalPending,
	}}
	service := NewWithdrawalService(&fakeDB{tx: tx}, store, payments.NewGateway(nil, nil), "EUR", zap.NewNop())

	updated, err := service.UpdateWithdrawal(context.Background(), adminActor(1), 5, UpdateWithdrawalInput{Status: models.WithdrawalRejected})
	if err != nil {
		t.Fatalf("UpdateWithdrawal: %v", err)
	}
	if updated.Status != models.WithdrawalRejected {
		t.Fatalf("unexpected status %q", updated.Status)
	}
	if reversalDirection != models.DirectionCredit || reversalCents != 5000 {
		t.Fatalf("unexpected reversal: direction=%q cents=%d", reversalDirection, reversalCents)
	}
	if reversalRefType != "withdrawal_request" {
		t.Fatalf("reversal reference_type %q does not match the hold", reversalRefType)
	}
	if reversalSource != "withdraw_request_reversal" {
		t.Fatalf("unexpected reversal source %q", reversalSource)
	}
}
