package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/store"
)

// paymentColumns is the column list used for SELECT statements on the payments table.
const paymentColumns = `id, order_id, total, status, version, created_at, updated_at`

const orderColumns = `id, payment_id, fulfillment_status, version, created_at, updated_at`

const subTransactionColumns = `id, payment_id, seq, amount, method, target, status,
	provider_reference, failure_reason, created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mapError translates driver errors into store sentinels. Any integrity
// constraint violation (SQLSTATE class 23) is a conflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %s (%s)", store.ErrConflict, pqErr.Message, pqErr.Constraint)
	}
	return err
}

func queryGetPayment(ctx context.Context, db executor, id string) (*model.Payment, error) {
	row := db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapError(err)
	}

	ids, err := querySubTransactionIDs(ctx, db, id)
	if err != nil {
		return nil, err
	}
	p.SubTransactionIDs = ids
	return p, nil
}

func querySubTransactionIDs(ctx context.Context, db executor, paymentID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id FROM sub_transactions WHERE payment_id = $1 ORDER BY seq`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("get sub-transaction ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func queryListPayments(ctx context.Context, db executor, filter model.PaymentFilter) ([]*model.Payment, int, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = nextArg()
			args = append(args, string(s))
		}
		whereClauses = append(whereClauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.OrderID != "" {
		whereClauses = append(whereClauses, "order_id = "+nextArg())
		args = append(args, filter.OrderID)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + paymentColumns +
		" FROM payments" + whereSQL + " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		dataQuery += " OFFSET " + nextArg()
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*model.Payment
	var total int
	for rows.Next() {
		p, t, err := scanPaymentWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan payments: %w", err)
		}
		total = t
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan payments: %w", err)
	}

	return payments, total, nil
}

func querySavePayment(ctx context.Context, db executor, p *model.Payment) error {
	if p.Version == 0 {
		_, err := db.ExecContext(ctx, `
			INSERT INTO payments (id, order_id, total, status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6)`,
			p.ID, p.OrderID, p.Total, string(p.Status), p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert payment %s: %w", p.ID, mapError(err))
		}
		p.Version = 1
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE payments SET status = $3, updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $2`,
		p.ID, p.Version, string(p.Status), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, mapError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("update payment %s at version %d: %w", p.ID, p.Version, err)
	}
	p.Version++
	return nil
}

func queryGetOrder(ctx context.Context, db executor, id string) (*model.Order, error) {
	row := db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, mapError(err)
	}
	return o, nil
}

func querySaveOrder(ctx context.Context, db executor, o *model.Order) error {
	if o.Version == 0 {
		_, err := db.ExecContext(ctx, `
			INSERT INTO orders (id, payment_id, fulfillment_status, version, created_at, updated_at)
			VALUES ($1, $2, $3, 1, $4, $5)`,
			o.ID, nullString(o.PaymentID), string(o.FulfillmentStatus), o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, mapError(err))
		}
		o.Version = 1
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE orders SET payment_id = $3, fulfillment_status = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $2`,
		o.ID, o.Version, nullString(o.PaymentID), string(o.FulfillmentStatus), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, mapError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("update order %s at version %d: %w", o.ID, o.Version, err)
	}
	o.Version++
	return nil
}

func queryGetSubTransactions(ctx context.Context, db executor, paymentID string) ([]*model.SubTransaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+subTransactionColumns+` FROM sub_transactions WHERE payment_id = $1 ORDER BY seq`,
		paymentID)
	if err != nil {
		return nil, fmt.Errorf("get sub-transactions: %w", err)
	}
	defer rows.Close()

	subs := []*model.SubTransaction{}
	for rows.Next() {
		st, err := scanSubTransaction(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

// querySaveSubTransaction inserts a sub-transaction or updates its mutable
// fields. Amount, method, target and seq never change after insert.
func querySaveSubTransaction(ctx context.Context, db executor, st *model.SubTransaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sub_transactions (
			id, payment_id, seq, amount, method, target, status,
			provider_reference, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			provider_reference = EXCLUDED.provider_reference,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = EXCLUDED.updated_at`,
		st.ID,
		st.PaymentID,
		st.Seq,
		st.Amount,
		st.Method,
		st.Target,
		string(st.Status),
		nullString(st.ProviderReference),
		nullString(st.FailureReason),
		st.CreatedAt,
		st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save sub-transaction %s: %w", st.ID, mapError(err))
	}
	return nil
}

// expectOneRow turns a zero-row optimistic update into ErrConflict.
func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}
