// Package quickbooks implements an accounting.Adapter for QuickBooks Online
// using its v3 REST API with OAuth2 bearer tokens.
package quickbooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/restapi"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/accounting"
)

const (
	providerID   = "quickbooks"
	minorVersion = "70"
	dateLayout   = "2006-01-02"
)

// Adapter talks to one QuickBooks company (realm).
type Adapter struct {
	client *restapi.Client
	realm  string
}

// New validates cfg and builds an adapter.
func New(cfg *accounting.Config) (*Adapter, error) {
	if err := cfg.Credentials.Validate(bookkeeping.AuthOAuth2); err != nil {
		return nil, err
	}
	creds := cfg.Credentials.OAuth2
	if creds.RealmID == "" {
		return nil, fmt.Errorf("%w: quickbooks requires realm_id", domain.ErrValidation)
	}
	ts := restapi.OAuth2TokenSource(creds, cfg.TokenEndpoint(), cfg.HTTPClient)
	return &Adapter{
		client: restapi.New(cfg, restapi.Bearer(ts)),
		realm:  creds.RealmID,
	}, nil
}

func (a *Adapter) ProviderID() string { return providerID }

func (a *Adapter) path(resource string) string {
	return "/company/" + url.PathEscape(a.realm) + "/" + resource
}

func (a *Adapter) query() map[string]string {
	return map[string]string{"minorversion": minorVersion}
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	var out struct {
		CompanyInfo struct {
			CompanyName string `json:"CompanyName"`
		} `json:"CompanyInfo"`
	}
	return a.client.Do(ctx, restapi.Call{
		Method: http.MethodGet,
		Path:   a.path("companyinfo/" + url.PathEscape(a.realm)),
		Query:  a.query(),
		Out:    &out,
	})
}

type ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type entity struct {
	ID string `json:"Id"`
}

func (a *Adapter) create(ctx context.Context, resource, wrapper string, body any) (bookkeeping.ExternalRef, error) {
	var out map[string]json.RawMessage
	err := a.client.Do(ctx, restapi.Call{
		Method: http.MethodPost,
		Path:   a.path(resource),
		Query:  a.query(),
		Body:   body,
		Out:    &out,
	})
	if err != nil {
		return bookkeeping.ExternalRef{}, err
	}
	var e entity
	if raw, ok := out[wrapper]; ok {
		if err := json.Unmarshal(raw, &e); err != nil {
			return bookkeeping.ExternalRef{}, fmt.Errorf("quickbooks decode %s: %w", resource, err)
		}
	}
	if e.ID == "" {
		return bookkeeping.ExternalRef{}, bookkeeping.NewSyncError(bookkeeping.KindServer, "", "quickbooks "+resource+" response carries no Id")
	}
	return bookkeeping.ExternalRef{ExternalID: e.ID}, nil
}

type customer struct {
	DisplayName      string `json:"DisplayName"`
	PrimaryEmailAddr *email `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *phone `json:"PrimaryPhone,omitempty"`
	BillAddr         *addr  `json:"BillAddr,omitempty"`
	Notes            string `json:"Notes,omitempty"`
}

type email struct {
	Address string `json:"Address"`
}

type phone struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

type addr struct {
	Line1 string `json:"Line1"`
}

func (a *Adapter) CreateCustomer(ctx context.Context, c *bookkeeping.Customer) (bookkeeping.ExternalRef, error) {
	body := customer{DisplayName: c.Name, Notes: "crm:" + c.SourceID}
	if c.Email != "" {
		body.PrimaryEmailAddr = &email{Address: c.Email}
	}
	if c.Phone != "" {
		body.PrimaryPhone = &phone{FreeFormNumber: c.Phone}
	}
	if c.Address != "" {
		body.BillAddr = &addr{Line1: c.Address}
	}
	return a.create(ctx, "customer", "Customer", body)
}

type invoiceLine struct {
	Amount              json.Number `json:"Amount"`
	Description         string      `json:"Description,omitempty"`
	DetailType          string      `json:"DetailType"`
	SalesItemLineDetail lineDetail  `json:"SalesItemLineDetail"`
}

type lineDetail struct {
	ItemRef ref `json:"ItemRef"`
}

type invoice struct {
	DocNumber   string        `json:"DocNumber,omitempty"`
	TxnDate     string        `json:"TxnDate"`
	DueDate     string        `json:"DueDate"`
	CustomerRef ref           `json:"CustomerRef"`
	Line        []invoiceLine `json:"Line"`
}

func (a *Adapter) CreateInvoice(ctx context.Context, inv *bookkeeping.Invoice) (bookkeeping.ExternalRef, error) {
	body := invoice{
		DocNumber:   inv.Number,
		TxnDate:     inv.IssueDate.Format(dateLayout),
		DueDate:     inv.DueDate.Format(dateLayout),
		CustomerRef: ref{Value: inv.CustomerExternalID},
	}
	for _, l := range inv.Lines {
		body.Line = append(body.Line, invoiceLine{
			Amount:              restapi.Money(l.Amount),
			Description:         l.Description,
			DetailType:          "SalesItemLineDetail",
			SalesItemLineDetail: lineDetail{ItemRef: ref{Value: l.AccountCode}},
		})
	}
	return a.create(ctx, "invoice", "Invoice", body)
}

type linkedTxn struct {
	TxnID   string `json:"TxnId"`
	TxnType string `json:"TxnType"`
}

type paymentLine struct {
	Amount    json.Number `json:"Amount"`
	LinkedTxn []linkedTxn `json:"LinkedTxn"`
}

type payment struct {
	TotalAmt            json.Number   `json:"TotalAmt"`
	TxnDate             string        `json:"TxnDate"`
	CustomerRef         ref           `json:"CustomerRef"`
	DepositToAccountRef ref           `json:"DepositToAccountRef"`
	PaymentRefNum       string        `json:"PaymentRefNum,omitempty"`
	Line                []paymentLine `json:"Line,omitempty"`
}

func (a *Adapter) CreatePayment(ctx context.Context, p *bookkeeping.Payment) (bookkeeping.ExternalRef, error) {
	body := payment{
		TotalAmt:            restapi.Money(p.Amount),
		TxnDate:             p.Date.Format(dateLayout),
		CustomerRef:         ref{Value: p.CustomerExternalID},
		DepositToAccountRef: ref{Value: p.BankAccountCode},
		PaymentRefNum:       p.Reference,
	}
	if p.InvoiceExternalID != "" {
		body.Line = []paymentLine{{
			Amount:    restapi.Money(p.Amount),
			LinkedTxn: []linkedTxn{{TxnID: p.InvoiceExternalID, TxnType: "Invoice"}},
		}}
	}
	return a.create(ctx, "payment", "Payment", body)
}

type journalLine struct {
	Amount                 json.Number   `json:"Amount"`
	Description            string        `json:"Description,omitempty"`
	DetailType             string        `json:"DetailType"`
	JournalEntryLineDetail journalDetail `json:"JournalEntryLineDetail"`
}

type journalDetail struct {
	PostingType string `json:"PostingType"`
	AccountRef  ref    `json:"AccountRef"`
}

type journalEntry struct {
	TxnDate     string        `json:"TxnDate"`
	DocNumber   string        `json:"DocNumber,omitempty"`
	PrivateNote string        `json:"PrivateNote,omitempty"`
	Line        []journalLine `json:"Line"`
}

func (a *Adapter) CreateJournalEntry(ctx context.Context, j *bookkeeping.JournalEntry) (bookkeeping.ExternalRef, error) {
	body := journalEntry{
		TxnDate:     j.Date.Format(dateLayout),
		DocNumber:   j.Reference,
		PrivateNote: j.Memo,
	}
	for _, l := range j.Lines {
		posting, amount := "Debit", l.Debit
		if l.Credit.IsPositive() {
			posting, amount = "Credit", l.Credit
		}
		body.Line = append(body.Line, journalLine{
			Amount:      restapi.Money(amount),
			Description: l.Description,
			DetailType:  "JournalEntryLineDetail",
			JournalEntryLineDetail: journalDetail{
				PostingType: posting,
				AccountRef:  ref{Value: l.AccountCode},
			},
		})
	}
	return a.create(ctx, "journalentry", "JournalEntry", body)
}

// report mirrors the subset of the QuickBooks report document the adapter reads.
type report struct {
	Header struct {
		Currency string `json:"Currency"`
	} `json:"Header"`
	Rows struct {
		Row []reportRow `json:"Row"`
	} `json:"Rows"`
}

type reportRow struct {
	Group   string `json:"group"`
	Summary *struct {
		ColData []colData `json:"ColData"`
	} `json:"Summary"`
	ColData []colData `json:"ColData"`
}

type colData struct {
	Value string `json:"value"`
}

func (a *Adapter) GetFinancialReport(ctx context.Context, kind bookkeeping.ReportKind, from, to time.Time) (*bookkeeping.FinancialReport, error) {
	var name string
	switch kind {
	case bookkeeping.ReportProfitAndLoss:
		name = "ProfitAndLoss"
	case bookkeeping.ReportBalanceSheet:
		name = "BalanceSheet"
	default:
		return nil, bookkeeping.NewSyncError(bookkeeping.KindValidation, "", fmt.Sprintf("unsupported report %q", kind))
	}

	q := a.query()
	q["start_date"] = from.Format(dateLayout)
	q["end_date"] = to.Format(dateLayout)

	var out report
	if err := a.client.Do(ctx, restapi.Call{
		Method: http.MethodGet,
		Path:   a.path("reports/" + name),
		Query:  q,
		Out:    &out,
	}); err != nil {
		return nil, err
	}

	fr := &bookkeeping.FinancialReport{Kind: kind, From: from, To: to, Currency: out.Header.Currency}
	for _, r := range out.Rows.Row {
		cols := r.ColData
		if r.Summary != nil {
			cols = r.Summary.ColData
		}
		if len(cols) < 2 {
			continue
		}
		amount, err := restapi.ParseMoney(json.RawMessage(`"` + cols[len(cols)-1].Value + `"`))
		if err != nil {
			return nil, bookkeeping.NewSyncError(bookkeeping.KindServer, "", "quickbooks report: "+err.Error())
		}
		label := cols[0].Value
		if label == "" {
			label = r.Group
		}
		fr.Rows = append(fr.Rows, bookkeeping.ReportRow{Label: label, Amount: amount})
	}
	return fr, nil
}
