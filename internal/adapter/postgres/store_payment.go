package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
)

// Read side of the tenant directory and the payment subsystem.

const tenantColumns = `id, organization_id, name, email, phone, property_id, unit, address, monthly_rent, security_deposit`

// GetTenant returns a tenant by id.
func (s *Store) GetTenant(ctx context.Context, id string) (*profile.Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %s", id)
	}
	return &t, nil
}

// ListTenants returns the organization's tenants ordered by id.
func (s *Store) ListTenants(ctx context.Context, organizationID string) ([]profile.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE organization_id = $1 ORDER BY id`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []profile.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return orEmpty(out), rows.Err()
}

func scanTenant(row scannable) (profile.Tenant, error) {
	var t profile.Tenant
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Email, &t.Phone, &t.PropertyID,
		&t.Unit, &t.Address, &t.MonthlyRent, &t.SecurityDeposit)
	return t, err
}

const paymentColumns = `p.id, p.tenant_id, p.property_id, p.amount, p.due_date, p.paid_date, p.status, p.payment_method_id, p.late_fee`

// ListPayments returns the tenant's payments by due date.
func (s *Store) ListPayments(ctx context.Context, tenantID string) ([]payment.Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments p WHERE p.tenant_id = $1 ORDER BY p.due_date, p.id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return s.collectPayments(ctx, rows)
}

// GetPayment returns a payment by id with its fees.
func (s *Store) GetPayment(ctx context.Context, id string) (*payment.Payment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFoundWrap(err, "get payment %s", id)
	}
	ps := []payment.Payment{p}
	if err := s.attachFees(ctx, ps); err != nil {
		return nil, err
	}
	return &ps[0], nil
}

// ListUnsyncedPayments returns payments of the organization's tenants that
// are not recorded as paid for the connection, oldest due date first.
func (s *Store) ListUnsyncedPayments(ctx context.Context, connectionID, organizationID string, limit int) ([]payment.Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments p
		 JOIN tenants t ON t.id = p.tenant_id
		 WHERE t.organization_id = $2
		   AND NOT EXISTS (
		     SELECT 1 FROM sync_records r
		     WHERE r.connection_id = $1 AND r.record_type = 'payment' AND r.record_id = p.id AND r.state = 'paid')
		 ORDER BY p.due_date, p.id
		 LIMIT $3`, connectionID, organizationID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list unsynced payments: %w", err)
	}
	return s.collectPayments(ctx, rows)
}

// ListPaymentMethods returns the tenant's payment methods, default first.
func (s *Store) ListPaymentMethods(ctx context.Context, tenantID string) ([]payment.Method, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, kind, last4, is_default FROM payment_methods
		 WHERE tenant_id = $1 ORDER BY is_default DESC, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	defer rows.Close()

	var out []payment.Method
	for rows.Next() {
		var m payment.Method
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Kind, &m.Last4, &m.IsDefault); err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		out = append(out, m)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) collectPayments(ctx context.Context, rows pgx.Rows) ([]payment.Payment, error) {
	var out []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	out = orEmpty(out)
	if err := s.attachFees(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachFees loads fees for all payments in one query.
func (s *Store) attachFees(ctx context.Context, ps []payment.Payment) error {
	if len(ps) == 0 {
		return nil
	}
	ids := make([]string, len(ps))
	index := make(map[string]int, len(ps))
	for i := range ps {
		ids[i] = ps[i].ID
		index[ps[i].ID] = i
	}

	rows, err := s.pool.Query(ctx,
		`SELECT payment_id, type, description, amount FROM payment_fees
		 WHERE payment_id = ANY($1) ORDER BY payment_id, position`, ids)
	if err != nil {
		return fmt.Errorf("list payment fees: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			paymentID string
			f         payment.Fee
		)
		if err := rows.Scan(&paymentID, &f.Type, &f.Description, &f.Amount); err != nil {
			return fmt.Errorf("scan payment fee: %w", err)
		}
		if i, ok := index[paymentID]; ok {
			ps[i].Fees = append(ps[i].Fees, f)
		}
	}
	return rows.Err()
}

func scanPayment(row scannable) (payment.Payment, error) {
	var (
		p       payment.Payment
		paid    *time.Time
		status  string
		lateFee decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.PropertyID, &p.Amount, &p.DueDate, &paid,
		&status, &p.PaymentMethodID, &lateFee)
	if err != nil {
		return p, err
	}
	p.Status = payment.Status(status)
	p.DueDate = p.DueDate.UTC()
	if paid != nil {
		t := paid.UTC()
		p.PaidDate = &t
	}
	if lateFee.Valid {
		fee := lateFee.Decimal
		p.LateFee = &fee
	}
	return p, nil
}
