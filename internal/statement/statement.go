// Package statement renders monthly account statements as XML.
package statement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/beevik/etree"
)

// ErrInvalidMonth is returned for a month not in YYYY-MM form.
var ErrInvalidMonth = errors.New("month must be formatted as YYYY-MM")

// Builder assembles statements from the transaction log.
type Builder struct {
	store repository.Store
	loc   *time.Location
	now   func() time.Time
}

// NewBuilder creates a statement builder. loc decides where a month starts
// and ends; nil means UTC.
func NewBuilder(store repository.Store, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{store: store, loc: loc, now: time.Now}
}

// Build returns the statement for accountID covering month (YYYY-MM).
func (b *Builder) Build(ctx context.Context, accountID int64, month string) (*etree.Document, error) {
	start, err := time.ParseInLocation("2006-01", month, b.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	end := start.AddDate(0, 1, 0)

	account, err := b.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}
	opening, err := b.store.SumTransactionsBefore(ctx, accountID, start)
	if err != nil {
		return nil, err
	}
	txs, err := b.store.ListTransactions(ctx, accountID, start, end)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("statement")
	root.CreateAttr("account", strconv.FormatInt(account.ID, 10))
	root.CreateAttr("period", start.Format("2006-01"))
	root.CreateAttr("generated", b.now().UTC().Format(time.RFC3339))

	holder := root.CreateElement("holder")
	holder.CreateAttr("email", account.Email)
	holder.CreateAttr("role", string(account.Role))
	if account.Plan != "" {
		holder.CreateAttr("plan", account.Plan)
	}

	root.CreateElement("opening-balance").SetText(strconv.FormatInt(opening, 10))

	list := root.CreateElement("transactions")
	closing := opening
	var allocated, spent, earned int64
	for _, t := range txs {
		el := list.CreateElement("transaction")
		el.CreateAttr("id", strconv.FormatInt(t.ID, 10))
		el.CreateAttr("kind", string(t.Kind))
		el.CreateAttr("amount", strconv.FormatInt(t.Amount, 10))
		if t.PlanTag != "" {
			el.CreateAttr("plan", t.PlanTag)
		}
		el.CreateAttr("at", t.CreatedAt.In(b.loc).Format(time.RFC3339))
		closing += t.Amount

		switch {
		case t.Kind == models.KindAllocation:
			allocated += t.Amount
		case t.Amount < 0:
			spent -= t.Amount
		default:
			earned += t.Amount
		}
	}

	summary := root.CreateElement("summary")
	summary.CreateAttr("allocated", strconv.FormatInt(allocated, 10))
	summary.CreateAttr("spent", strconv.FormatInt(spent, 10))
	summary.CreateAttr("received", strconv.FormatInt(earned, 10))
	root.CreateElement("closing-balance").SetText(strconv.FormatInt(closing, 10))

	doc.Indent(2)
	return doc, nil
}

// Write renders the statement to w.
func (b *Builder) Write(ctx context.Context, w io.Writer, accountID int64, month string) error {
	doc, err := b.Build(ctx, accountID, month)
	if err != nil {
		return err
	}
	_, err = doc.WriteTo(w)
	return err
}
