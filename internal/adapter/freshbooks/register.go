package freshbooks

import "github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/accounting"

func init() {
	accounting.Register(providerID, func(cfg accounting.Config) (accounting.Adapter, error) {
		return New(&cfg)
	})
}
