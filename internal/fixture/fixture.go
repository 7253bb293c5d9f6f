// Package fixture loads a group of entities, their financials and
// intercompany transactions from YAML.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
	"github.com/odyssey-erp/odyssey-consol/internal/reconcile"
)

const dateLayout = "2006-01-02"

// ErrInvalidFixture indicates a malformed fixture file.
var ErrInvalidFixture = errors.New("fixture: invalid")

// File mirrors the YAML document.
type File struct {
	Root         string           `yaml:"root"`
	AsOf         string           `yaml:"as_of"`
	Currency     string           `yaml:"currency"`
	Entities     []EntityDoc      `yaml:"entities"`
	Financials   []FinancialsDoc  `yaml:"financials"`
	Transactions []TransactionDoc `yaml:"transactions"`
	Reported     []ReportedDoc    `yaml:"reported"`
}

// EntityDoc is one entity record. The first entity without a parent is the root.
type EntityDoc struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Parent    string `yaml:"parent"`
	Ownership string `yaml:"ownership"`
	Method    string `yaml:"method"`
}

// FinancialsDoc is the own financials of an entity.
type FinancialsDoc struct {
	EntityID    string `yaml:"entity_id"`
	AsOf        string `yaml:"as_of"`
	Assets      string `yaml:"assets"`
	Liabilities string `yaml:"liabilities"`
	Revenue     string `yaml:"revenue"`
	Expense     string `yaml:"expense"`
	NetIncome   string `yaml:"net_income"`
}

// TransactionDoc records a transaction, or reverses an earlier one when
// Reverses names its ref.
type TransactionDoc struct {
	Ref              string `yaml:"ref"`
	Date             string `yaml:"date"`
	From             string `yaml:"from"`
	To               string `yaml:"to"`
	Category         string `yaml:"category"`
	Amount           string `yaml:"amount"`
	Description      string `yaml:"description"`
	LinkedInvoiceRef string `yaml:"linked_invoice_ref"`
	Pending          bool   `yaml:"pending"`
	Reverses         string `yaml:"reverses"`
}

// ReportedDoc is an externally reported pair balance.
type ReportedDoc struct {
	EntityA string `yaml:"entity_a"`
	EntityB string `yaml:"entity_b"`
	Net     string `yaml:"net"`
}

// Group is a fixture materialised into the in-memory collaborators.
type Group struct {
	Root       string
	AsOf       time.Time
	Currency   string
	Graph      *entity.Graph
	Ledger     *ledger.Ledger
	Financials *consol.StaticFinancials
	Reported   []reconcile.Reported
	// Refs maps fixture refs to ledger transaction ids.
	Refs map[string]string
}

// Parse decodes a fixture document.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	return &f, nil
}

// LoadFile parses the fixture at path.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Parse(fh)
}

// Options controls how a fixture is materialised.
type Options struct {
	// Ledger configures the ledger the transactions are recorded into.
	Ledger ledger.Config
	// SkipTransactions leaves the ledger empty, e.g. when it is restored from a journal.
	SkipTransactions bool
}

// Build materialises the fixture. Entities must be listed parents first.
func (f *File) Build(ctx context.Context, opts Options) (*Group, error) {
	g := &Group{
		Root:       f.Root,
		Currency:   f.Currency,
		Graph:      entity.NewGraph(),
		Financials: consol.NewStaticFinancials(),
		Refs:       make(map[string]string),
	}
	var err error
	if g.AsOf, err = parseDate(f.AsOf, "as_of"); err != nil {
		return nil, err
	}

	for _, doc := range f.Entities {
		e, err := doc.entity()
		if err != nil {
			return nil, err
		}
		if err := g.Graph.Add(e, doc.Parent); err != nil {
			return nil, err
		}
	}
	if g.Root == "" {
		root, ok := g.Graph.Root()
		if !ok {
			return nil, fmt.Errorf("%w: no entities", ErrInvalidFixture)
		}
		g.Root = root.ID
	}

	for _, doc := range f.Financials {
		fin, err := doc.financials(g.AsOf)
		if err != nil {
			return nil, err
		}
		g.Financials.Put(fin)
	}

	g.Ledger = ledger.New(g.Graph, opts.Ledger)
	if !opts.SkipTransactions {
		if err := f.Seed(ctx, g); err != nil {
			return nil, err
		}
	}

	for _, doc := range f.Reported {
		net, err := parseAmount(doc.Net, "reported net")
		if err != nil {
			return nil, err
		}
		g.Reported = append(g.Reported, reconcile.Reported{EntityA: doc.EntityA, EntityB: doc.EntityB, Net: net})
	}
	return g, nil
}

// Seed records the fixture transactions into g's ledger. Used after a journal
// restore found nothing to replay.
func (f *File) Seed(ctx context.Context, g *Group) error {
	for i, doc := range f.Transactions {
		if err := g.apply(ctx, i, doc); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) apply(ctx context.Context, i int, doc TransactionDoc) error {
	if doc.Reverses != "" {
		target, ok := g.Refs[doc.Reverses]
		if !ok {
			return fmt.Errorf("%w: transaction %d reverses unknown ref %q", ErrInvalidFixture, i, doc.Reverses)
		}
		var date time.Time
		if doc.Date != "" {
			d, err := parseDate(doc.Date, "date")
			if err != nil {
				return err
			}
			date = d
		}
		id, err := g.Ledger.Reverse(ctx, target, date)
		if err != nil {
			return err
		}
		g.remember(doc.Ref, id)
		return nil
	}

	date, err := parseDate(doc.Date, "date")
	if err != nil {
		return err
	}
	amount, err := parseAmount(doc.Amount, "amount")
	if err != nil {
		return err
	}
	id, err := g.Ledger.Record(ctx, ledger.RecordInput{
		Date:             date,
		From:             doc.From,
		To:               doc.To,
		Category:         ledger.Category(doc.Category),
		Amount:           amount,
		Description:      doc.Description,
		LinkedInvoiceRef: doc.LinkedInvoiceRef,
	})
	if err != nil {
		return err
	}
	if !doc.Pending {
		if _, err := g.Ledger.Post(ctx, id); err != nil {
			return err
		}
	}
	g.remember(doc.Ref, id)
	return nil
}

func (g *Group) remember(ref, id string) {
	if ref != "" {
		g.Refs[ref] = id
	}
}

func (d EntityDoc) entity() (entity.Entity, error) {
	method, err := entity.ParseMethod(d.Method)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("%w: entity %s: %v", ErrInvalidFixture, d.ID, err)
	}
	ownership := decimal.NewFromInt(100)
	if d.Ownership != "" {
		if ownership, err = decimal.NewFromString(d.Ownership); err != nil {
			return entity.Entity{}, fmt.Errorf("%w: entity %s ownership: %v", ErrInvalidFixture, d.ID, err)
		}
	}
	t := entity.Type(d.Type)
	if d.Type != "" && !t.Valid() {
		return entity.Entity{}, fmt.Errorf("%w: entity %s type %q", ErrInvalidFixture, d.ID, d.Type)
	}
	if d.Parent == "" && method == entity.MethodUnknown {
		method = entity.MethodFull
	}
	return entity.Entity{ID: d.ID, Name: d.Name, Type: t, Ownership: ownership, Method: method}, nil
}

func (d FinancialsDoc) financials(defaultAsOf time.Time) (consol.Financials, error) {
	asOf := defaultAsOf
	if d.AsOf != "" {
		v, err := parseDate(d.AsOf, "financials as_of")
		if err != nil {
			return consol.Financials{}, err
		}
		asOf = v
	}
	out := consol.Financials{EntityID: d.EntityID, AsOf: asOf}
	fields := []struct {
		raw  string
		name string
		dst  *decimal.Decimal
	}{
		{d.Assets, "assets", &out.Assets},
		{d.Liabilities, "liabilities", &out.Liabilities},
		{d.Revenue, "revenue", &out.Revenue},
		{d.Expense, "expense", &out.Expense},
		{d.NetIncome, "net_income", &out.NetIncome},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = decimal.Zero
			continue
		}
		v, err := parseAmount(f.raw, d.EntityID+" "+f.name)
		if err != nil {
			return consol.Financials{}, err
		}
		*f.dst = v
	}
	return out, nil
}

func parseDate(raw, field string) (time.Time, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q", ErrInvalidFixture, field, raw)
	}
	return t, nil
}

func parseAmount(raw, field string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q", ErrInvalidFixture, field, raw)
	}
	return v, nil
}
