package fixture

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
	"github.com/odyssey-erp/odyssey-consol/internal/reconcile"
)

func loadGroup(t *testing.T, opts Options) *Group {
	t.Helper()
	f, err := LoadFile("testdata/group.yaml")
	require.NoError(t, err)
	g, err := f.Build(context.Background(), opts)
	require.NoError(t, err)
	return g
}

func TestBuildMaterialisesGroup(t *testing.T) {
	g := loadGroup(t, Options{})

	require.Equal(t, "M", g.Root)
	require.Equal(t, "USD", g.Currency)
	require.Equal(t, 3, g.Graph.Len())
	s2, err := g.Graph.Get("S2")
	require.NoError(t, err)
	require.Equal(t, entity.MethodEquity, s2.Method)
	require.Equal(t, "50", s2.Ownership.String())

	txs := g.Ledger.Transactions(ledger.Filter{})
	require.Len(t, txs, 5)
	reversal, err := g.Ledger.Get(g.Refs["wrong-fee-reversal"])
	require.NoError(t, err)
	require.Equal(t, g.Refs["wrong-fee"], reversal.ReversalOf)
	draft, err := g.Ledger.Get(g.Refs["draft"])
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, draft.Status)
}

func TestFixtureConsolidatesAndReconciles(t *testing.T) {
	g := loadGroup(t, Options{})
	engine := consol.NewEngine(g.Graph, g.Ledger, g.Financials, consol.Config{Workers: 2})

	st, err := engine.Consolidate(context.Background(), g.Root, g.AsOf)
	require.NoError(t, err)
	require.True(t, st.Consolidated.Revenue.Equal(st.Gross.Revenue.Sub(decimal.RequireFromString("18500"))))
	require.True(t, st.Equity.Contributions.Equal(decimal.RequireFromString("250000")))

	findings, err := reconcile.New(g.Ledger, reconcile.Config{}).ReconcileAll(context.Background(), g.AsOf, g.Reported)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.True(t, findings[0].Balanced())
}

func TestBuildCanSkipTransactions(t *testing.T) {
	g := loadGroup(t, Options{SkipTransactions: true})
	require.Empty(t, g.Ledger.Transactions(ledger.Filter{}))
	require.Empty(t, g.Refs)

	f, err := LoadFile("testdata/group.yaml")
	require.NoError(t, err)
	require.NoError(t, f.Seed(context.Background(), g))
	require.Len(t, g.Ledger.Transactions(ledger.Filter{}), 5)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown field": "root: M\nbogus: 1\n",
		"bad date":      "as_of: yesterday\nentities:\n  - id: M\n",
		"bad method":    "as_of: 2024-12-31\nentities:\n  - id: M\n  - id: S\n    parent: M\n    method: PARTIAL\n",
		"bad reversal":  "as_of: 2024-12-31\nentities:\n  - id: M\ntransactions:\n  - reverses: nope\n",
		"bad amount":    "as_of: 2024-12-31\nentities:\n  - id: M\nfinancials:\n  - entity_id: M\n    assets: lots\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := Parse(strings.NewReader(doc))
			if err == nil {
				_, err = f.Build(context.Background(), Options{})
			}
			require.ErrorIs(t, err, ErrInvalidFixture)
		})
	}
}

func TestBuildSurfacesStructuralErrors(t *testing.T) {
	doc := "as_of: 2024-12-31\nentities:\n  - id: M\n  - id: S\n    parent: X\n"
	f, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	_, err = f.Build(context.Background(), Options{})
	require.ErrorIs(t, err, entity.ErrInvalidParent)
}
