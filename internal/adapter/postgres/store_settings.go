package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
)

// GetTenantSettings returns domain.ErrNotFound when nothing was stored.
func (s *Store) GetTenantSettings(ctx context.Context, tenantID string) (*profile.Settings, error) {
	var (
		st                     profile.Settings
		autoPay, notifications []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, auto_pay, notifications, updated_at FROM tenant_settings WHERE tenant_id = $1`, tenantID).
		Scan(&st.TenantID, &autoPay, &notifications, &st.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get settings for tenant %s", tenantID)
	}
	if err := json.Unmarshal(autoPay, &st.AutoPay); err != nil {
		return nil, fmt.Errorf("decode auto-pay of %s: %w", tenantID, err)
	}
	if err := json.Unmarshal(notifications, &st.Notifications); err != nil {
		return nil, fmt.Errorf("decode notifications of %s: %w", tenantID, err)
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

// UpsertTenantSettings stores the tenant settings.
func (s *Store) UpsertTenantSettings(ctx context.Context, st *profile.Settings) error {
	autoPay, err := json.Marshal(st.AutoPay)
	if err != nil {
		return fmt.Errorf("encode auto-pay: %w", err)
	}
	notifications, err := json.Marshal(st.Notifications)
	if err != nil {
		return fmt.Errorf("encode notifications: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tenant_settings (tenant_id, auto_pay, notifications, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET auto_pay = EXCLUDED.auto_pay, notifications = EXCLUDED.notifications, updated_at = EXCLUDED.updated_at`,
		st.TenantID, autoPay, notifications, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert settings for tenant %s: %w", st.TenantID, err)
	}
	return nil
}
