package postgres

import (
	"database/sql"

	"github.com/alfredjeanlab/splitpay/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanPayment scans a single row into a model.Payment.
// The row must contain columns in the order defined by paymentColumns.
func scanPayment(row scannable) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Total,
		&p.Status,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// scanPaymentWithTotal scans a row that has a leading total_count column
// followed by the standard payment columns.
func scanPaymentWithTotal(row scannable) (*model.Payment, int, error) {
	var total int
	var p model.Payment
	err := row.Scan(
		&total,
		&p.ID,
		&p.OrderID,
		&p.Total,
		&p.Status,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, 0, err
	}
	return &p, total, nil
}

func scanOrder(row scannable) (*model.Order, error) {
	var o model.Order
	var paymentID sql.NullString
	err := row.Scan(
		&o.ID,
		&paymentID,
		&o.FulfillmentStatus,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PaymentID = paymentID.String
	return &o, nil
}

func scanSubTransaction(row scannable) (*model.SubTransaction, error) {
	var st model.SubTransaction
	var (
		providerRef   sql.NullString
		failureReason sql.NullString
	)
	err := row.Scan(
		&st.ID,
		&st.PaymentID,
		&st.Seq,
		&st.Amount,
		&st.Method,
		&st.Target,
		&st.Status,
		&providerRef,
		&failureReason,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.ProviderReference = providerRef.String
	st.FailureReason = failureReason.String
	return &st, nil
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
