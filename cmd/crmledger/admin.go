package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/postgres"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/config"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/secrets"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "verify-ledger":
		return runAdminVerifyLedger(args[1:])
	case "list-connections":
		return runAdminListConnections(args[1:])
	case "add-connection":
		return runAdminAddConnection(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: crmledger admin <command> [options]

Commands:
  verify-ledger      Recompute running balances and report mismatches
  list-connections   List an organization's bookkeeping connections
  add-connection     Create a bookkeeping connection (secrets are prompted)
  migrate            Apply, roll back or show database migrations
  help               Show this help message

Examples:
  crmledger admin verify-ledger --org org-1
  crmledger admin verify-ledger --tenant 7c0e...
  crmledger admin list-connections --org org-1
  crmledger admin add-connection --org org-1 --provider freshbooks --name Books
  crmledger admin migrate up
  crmledger admin migrate down --steps 1
`)
}

type adminDeps struct {
	cfg   *config.Config
	store *postgres.Store
	conns *service.ConnectionService
}

func loadAdminDeps(ctx context.Context) (*adminDeps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	cleanup := func() {
		pool.Close()
	}

	vault, err := secrets.NewVault(credentialLoader(cfg.Secrets))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("secrets: %w", err)
	}
	secret, err := vault.Require(cfg.Secrets.CredentialKeyEnv)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("credential secret: %w", err)
	}
	key, err := bookkeeping.DeriveKey(secret)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	store := postgres.NewStore(pool)
	return &adminDeps{
		cfg:   cfg,
		store: store,
		conns: service.NewConnectionService(store, bookkeeping.Catalog(), key),
	}, cleanup, nil
}

func runAdminVerifyLedger(args []string) error {
	fs := flag.NewFlagSet("verify-ledger", flag.ContinueOnError)
	org := fs.String("org", "", "verify every tenant of this organization")
	tenant := fs.String("tenant", "", "verify a single tenant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*org == "") == (*tenant == "") {
		return errors.New("exactly one of --org and --tenant is required")
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	ids := []string{*tenant}
	if *org != "" {
		tenants, err := deps.store.ListTenants(ctx, *org)
		if err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
		ids = ids[:0]
		for i := range tenants {
			ids = append(ids, tenants[i].ID)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TENANT\tENTRIES\tBALANCE\tRESULT")
	broken := 0
	for _, id := range ids {
		entries, err := deps.store.ListLedgerEntries(ctx, id)
		if err != nil {
			return fmt.Errorf("list ledger of %s: %w", id, err)
		}
		slices.Reverse(entries)
		balance, err := ledger.VerifyChain(entries)
		result := "ok"
		if err != nil {
			broken++
			result = err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", id, len(entries), balance.StringFixed(2), result)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if broken > 0 {
		return fmt.Errorf("%d of %d ledgers failed verification", broken, len(ids))
	}
	return nil
}

func runAdminListConnections(args []string) error {
	fs := flag.NewFlagSet("list-connections", flag.ContinueOnError)
	org := fs.String("org", "", "organization id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *org == "" {
		return errors.New("--org is required")
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	conns, err := deps.conns.List(ctx, *org)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	if len(conns) == 0 {
		fmt.Println("No connections found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROVIDER\tNAME\tSTATUS\tFREQUENCY\tLAST_SYNC\tLAST_ERROR")
	for i := range conns {
		c := &conns[i]
		last := "-"
		if c.LastSync != nil {
			last = c.LastSync.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.ProviderID, c.Name, c.SyncStatus, c.Configuration.SyncFrequency, last, c.LastError)
	}
	return w.Flush()
}

func runAdminAddConnection(args []string) error {
	fs := flag.NewFlagSet("add-connection", flag.ContinueOnError)
	org := fs.String("org", "", "organization id (required)")
	providerID := fs.String("provider", "", "provider id (required)")
	name := fs.String("name", "", "display name (defaults to the provider name)")
	frequency := fs.String("frequency", "daily", "sync frequency (realtime, hourly, daily, weekly, manual)")
	mappings := fs.String("mappings", "", "account mappings as key=code pairs separated by commas")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *org == "" || *providerID == "" {
		return errors.New("--org and --provider are required")
	}
	provider, ok := bookkeeping.Catalog().Get(*providerID)
	if !ok {
		return fmt.Errorf("unknown provider %q", *providerID)
	}
	accounts, err := parseMappings(*mappings)
	if err != nil {
		return err
	}
	creds, err := promptCredentials(provider.AuthType)
	if err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	c, err := deps.conns.Create(ctx, &bookkeeping.CreateRequest{
		OrganizationID: *org,
		ProviderID:     provider.ID,
		Name:           *name,
		Credentials:    creds,
		Configuration: bookkeeping.Configuration{
			SyncFrequency:   bookkeeping.SyncFrequency(*frequency),
			AccountMappings: accounts,
		},
	})
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Connection created: %s (id=%s, provider=%s)\n", c.Name, c.ID, c.ProviderID)
	return nil
}

func runAdminMigrate(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: crmledger admin migrate up|down|version")
	}
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "migrations to roll back (down only)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
	case "down":
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Schema version: %d\n", v)
	return nil
}

// parseMappings reads "rent=4000,bank=1000" into a map.
func parseMappings(s string) (map[string]string, error) {
	out := make(map[string]string)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid mapping %q, want key=code", pair)
		}
		out[k] = v
	}
	return out, nil
}

// promptCredentials asks for the secret bundle the provider's auth type needs.
func promptCredentials(auth bookkeeping.AuthType) (bookkeeping.Credentials, error) {
	creds := bookkeeping.Credentials{AuthType: auth}
	var err error
	switch auth {
	case bookkeeping.AuthOAuth2:
		o := &bookkeeping.OAuth2Credentials{}
		if o.ClientID, err = promptLine("Client ID: "); err != nil {
			return creds, err
		}
		if o.ClientSecret, err = promptPassword("Client secret: "); err != nil {
			return creds, err
		}
		if o.RefreshToken, err = promptPassword("Refresh token: "); err != nil {
			return creds, err
		}
		if o.RealmID, err = promptLine("Realm/company ID (optional): "); err != nil {
			return creds, err
		}
		creds.OAuth2 = o
	case bookkeeping.AuthAPIKey:
		k := &bookkeeping.APIKeyCredentials{}
		if k.APIKey, err = promptPassword("API key: "); err != nil {
			return creds, err
		}
		if k.AccountID, err = promptLine("Account ID (optional): "); err != nil {
			return creds, err
		}
		creds.APIKey = k
	case bookkeeping.AuthUsernamePassword:
		b := &bookkeeping.BasicCredentials{}
		if b.Username, err = promptLine("Username: "); err != nil {
			return creds, err
		}
		if b.Password, err = promptPassword("Password: "); err != nil {
			return creds, err
		}
		if b.BusinessID, err = promptLine("Business ID (optional): "); err != nil {
			return creds, err
		}
		creds.Basic = b
	default:
		return creds, fmt.Errorf("unsupported auth type %q", auth)
	}
	return creds, nil
}

var stdin = bufio.NewReader(os.Stdin)

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a secret from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after password input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
