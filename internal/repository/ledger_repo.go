package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/MehdiDinari/homebook/internal/models"
)

// EntryKey is the ledger idempotency key. A key is only enforceable when
// both reference fields are populated; keyless entries are always
// appended.
type EntryKey struct {
	SubjectID     int64
	Direction     string
	Source        string
	ReferenceType *string
	ReferenceID   *string
}

func (k EntryKey) Complete() bool {
	return k.ReferenceType != nil && *k.ReferenceType != "" && k.ReferenceID != nil && *k.ReferenceID != ""
}

type LedgerRepository struct {
	db DBTX
}

func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

type RecordWalletEntryInput struct {
	Key         EntryKey
	AmountCents int64
	PointsDelta int
	Note        *string
}

// RecordWalletEntry appends a student ledger row. When the idempotency
// key already matched a row, the existing row is returned unchanged with
// created=false so callers skip their side effects on retries.
func (r *LedgerRepository) RecordWalletEntry(ctx context.Context, input RecordWalletEntryInput) (*models.WalletEntry, bool, error) {
	if input.Key.Complete() {
		existing, err := r.findWalletEntry(ctx, input.Key)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	query := `
		INSERT INTO wallet_ledger (student_user_id, direction, amount_cents, points_delta, source, reference_type, reference_id, note)
		VALUES ($1, $2, GREATEST($3, 0), $4, $5, $6, $7, $8)
		RETURNING id, student_user_id, direction, amount_cents, points_delta, source, reference_type, reference_id, note, created_at
	`
	var entry models.WalletEntry
	err := r.db.QueryRow(
		ctx,
		query,
		input.Key.SubjectID,
		input.Key.Direction,
		input.AmountCents,
		input.PointsDelta,
		input.Key.Source,
		input.Key.ReferenceType,
		input.Key.ReferenceID,
		input.Note,
	).Scan(
		&entry.ID,
		&entry.StudentUserID,
		&entry.Direction,
		&entry.AmountCents,
		&entry.PointsDelta,
		&entry.Source,
		&entry.ReferenceType,
		&entry.ReferenceID,
		&entry.Note,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

func (r *LedgerRepository) findWalletEntry(ctx context.Context, key EntryKey) (*models.WalletEntry, error) {
	query := `
		SELECT id, student_user_id, direction, amount_cents, points_delta, source, reference_type, reference_id, note, created_at
		FROM wallet_ledger
		WHERE student_user_id = $1 AND direction = $2 AND source = $3 AND reference_type = $4 AND reference_id = $5
		LIMIT 1
	`
	var entry models.WalletEntry
	err := r.db.QueryRow(ctx, query, key.SubjectID, key.Direction, key.Source, key.ReferenceType, key.ReferenceID).Scan(
		&entry.ID,
		&entry.StudentUserID,
		&entry.Direction,
		&entry.AmountCents,
		&entry.PointsDelta,
		&entry.Source,
		&entry.ReferenceType,
		&entry.ReferenceID,
		&entry.Note,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

type RecordTeacherEntryInput struct {
	Key         EntryKey
	AmountCents int64
	Note        *string
}

// RecordTeacherEntry is the teacher-wallet twin of RecordWalletEntry.
func (r *LedgerRepository) RecordTeacherEntry(ctx context.Context, input RecordTeacherEntryInput) (*models.TeacherWalletEntry, error) {
	if input.Key.Complete() {
		existing, err := r.findTeacherEntry(ctx, input.Key)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	query := `
		INSERT INTO teacher_wallet_ledger (teacher_user_id, direction, amount_cents, source, reference_type, reference_id, note)
		VALUES ($1, $2, GREATEST($3, 0), $4, $5, $6, $7)
		RETURNING id, teacher_user_id, direction, amount_cents, source, reference_type, reference_id, note, created_at
	`
	var entry models.TeacherWalletEntry
	err := r.db.QueryRow(
		ctx,
		query,
		input.Key.SubjectID,
		input.Key.Direction,
		input.AmountCents,
		input.Key.Source,
		input.Key.ReferenceType,
		input.Key.ReferenceID,
		input.Note,
	).Scan(
		&entry.ID,
		&entry.TeacherUserID,
		&entry.Direction,
		&entry.AmountCents,
		&entry.Source,
		&entry.ReferenceType,
		&entry.ReferenceID,
		&entry.Note,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) findTeacherEntry(ctx context.Context, key EntryKey) (*models.TeacherWalletEntry, error) {
	query := `
		SELECT id, teacher_user_id, direction, amount_cents, source, reference_type, reference_id, note, created_at
		FROM teacher_wallet_ledger
		WHERE teacher_user_id = $1 AND direction = $2 AND source = $3 AND reference_type = $4 AND reference_id = $5
		LIMIT 1
	`
	var entry models.TeacherWalletEntry
	err := r.db.QueryRow(ctx, query, key.SubjectID, key.Direction, key.Source, key.ReferenceType, key.ReferenceID).Scan(
		&entry.ID,
		&entry.TeacherUserID,
		&entry.Direction,
		&entry.AmountCents,
		&entry.Source,
		&entry.ReferenceType,
		&entry.ReferenceID,
		&entry.Note,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// TeacherNetCents projects the teacher wallet balance from its entries.
// The balance is never persisted, so it cannot drift from the ledger.
func (r *LedgerRepository) TeacherNetCents(ctx context.Context, teacherUserID int64) (int64, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount_cents ELSE -amount_cents END), 0)
		FROM teacher_wallet_ledger
		WHERE teacher_user_id = $1
	`
	var net int64
	if err := r.db.QueryRow(ctx, query, teacherUserID).Scan(&net); err != nil {
		return 0, err
	}
	return net, nil
}

// StudentLedgerTotals returns lifetime deposited and spent cents.
func (r *LedgerRepository) StudentLedgerTotals(ctx context.Context, studentUserID int64) (deposited int64, spent int64, err error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'debit' THEN amount_cents ELSE 0 END), 0)
		FROM wallet_ledger
		WHERE student_user_id = $1
	`
	if err := r.db.QueryRow(ctx, query, studentUserID).Scan(&deposited, &spent); err != nil {
		return 0, 0, err
	}
	return deposited, spent, nil
}

func (r *LedgerRepository) ListWalletEntries(ctx context.Context, studentUserID int64, limit int) ([]models.WalletEntry, error) {
	query := `
		SELECT id, student_user_id, direction, amount_cents, points_delta, source, reference_type, reference_id, note, created_at
		FROM wallet_ledger
		WHERE student_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, studentUserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.WalletEntry, 0)
	for rows.Next() {
		var entry models.WalletEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.StudentUserID,
			&entry.Direction,
			&entry.AmountCents,
			&entry.PointsDelta,
			&entry.Source,
			&entry.ReferenceType,
			&entry.ReferenceID,
			&entry.Note,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *LedgerRepository) ListTeacherEntries(ctx context.Context, teacherUserID int64, limit int) ([]models.TeacherWalletEntry, error) {
	query := `
		SELECT id, teacher_user_id, direction, amount_cents, source, reference_type, reference_id, note, created_at
		FROM teacher_wallet_ledger
		WHERE teacher_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, teacherUserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.TeacherWalletEntry, 0)
	for rows.Next() {
		var entry models.TeacherWalletEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.TeacherUserID,
			&entry.Direction,
			&entry.AmountCents,
			&entry.Source,
			&entry.ReferenceType,
			&entry.ReferenceID,
			&entry.Note,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// EnsureStudentBalance creates the points counter with the default grant
// on first access and returns the current row otherwise.
func (r *LedgerRepository) EnsureStudentBalance(ctx context.Context, studentUserID int64) (*models.StudentBalance, error) {
	query := `
		INSERT INTO student_balances (student_user_id, balance)
		VALUES ($1, 500)
		ON CONFLICT (student_user_id) DO UPDATE SET student_user_id = EXCLUDED.student_user_id
		RETURNING id, student_user_id, balance, created_at, updated_at
	`
	var balance models.StudentBalance
	err := r.db.QueryRow(ctx, query, studentUserID).Scan(
		&balance.ID,
		&balance.StudentUserID,
		&balance.Balance,
		&balance.CreatedAt,
		&balance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// AdjustStudentBalance applies a signed delta to the points counter. It
// must run inside the same transaction as the matching ledger write.
func (r *LedgerRepository) AdjustStudentBalance(ctx context.Context, studentUserID int64, delta int) (*models.StudentBalance, error) {
	query := `
		UPDATE student_balances
		SET balance = balance + $2, updated_at = NOW()
		WHERE student_user_id = $1
		RETURNING id, student_user_id, balance, created_at, updated_at
	`
	var balance models.StudentBalance
	err := r.db.QueryRow(ctx, query, studentUserID, delta).Scan(
		&balance.ID,
		&balance.StudentUserID,
		&balance.Balance,
		&balance.CreatedAt,
		&balance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}
