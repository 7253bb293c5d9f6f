package pgstore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
)

const upsertEntity = `INSERT INTO consol_entities (id, name, type, parent_id, ownership, method)
	VALUES ($1, $2, $3, $4, $5::numeric, $6)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type,
		parent_id = EXCLUDED.parent_id, ownership = EXCLUDED.ownership, method = EXCLUDED.method`

const upsertFinancials = `INSERT INTO consol_financials (entity_id, as_of, assets, liabilities, revenue, expense, net_income)
	VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric)
	ON CONFLICT (entity_id, as_of) DO UPDATE SET assets = EXCLUDED.assets, liabilities = EXCLUDED.liabilities,
		revenue = EXCLUDED.revenue, expense = EXCLUDED.expense, net_income = EXCLUDED.net_income`

const selectEntities = `SELECT id, name, type, parent_id, ownership::text, method FROM consol_entities ORDER BY position`

const selectFinancials = `SELECT entity_id, as_of, assets::text, liabilities::text, revenue::text, expense::text, net_income::text
	FROM consol_financials ORDER BY entity_id, as_of`

// SaveEntity inserts or replaces an entity of the ownership tree. An existing
// row keeps its position so the load order stays parent first.
func (s *Store) SaveEntity(ctx context.Context, e entity.Entity) error {
	if _, err := s.db.Exec(ctx, upsertEntity,
		e.ID, e.Name, string(e.Type), e.ParentID, e.Ownership.String(), methodLabel(e.Method)); err != nil {
		return fmt.Errorf("pgstore: save entity %s: %w", e.ID, err)
	}
	return nil
}

// DeleteEntity removes an entity row. Stored financials are kept and apply
// again if the id is re-added.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM consol_entities WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pgstore: delete entity %s: %w", id, err)
	}
	return nil
}

// PutFinancials inserts or replaces the figures of an entity for f.AsOf.
func (s *Store) PutFinancials(ctx context.Context, f consol.Financials) error {
	if _, err := s.db.Exec(ctx, upsertFinancials,
		f.EntityID, f.AsOf, f.Assets.String(), f.Liabilities.String(), f.Revenue.String(),
		f.Expense.String(), f.NetIncome.String()); err != nil {
		return fmt.Errorf("pgstore: put financials of %s: %w", f.EntityID, err)
	}
	return nil
}

// SaveGroup stores a whole ownership tree and its financials in one
// transaction. Entities must be ordered parent first.
func (s *Store) SaveGroup(ctx context.Context, entities []entity.Entity, financials []consol.Financials) error {
	return s.inTx(ctx, func(q dbtx) error {
		for _, e := range entities {
			if _, err := q.Exec(ctx, upsertEntity,
				e.ID, e.Name, string(e.Type), e.ParentID, e.Ownership.String(), methodLabel(e.Method)); err != nil {
				return fmt.Errorf("pgstore: save entity %s: %w", e.ID, err)
			}
		}
		for _, f := range financials {
			if _, err := q.Exec(ctx, upsertFinancials,
				f.EntityID, f.AsOf, f.Assets.String(), f.Liabilities.String(), f.Revenue.String(),
				f.Expense.String(), f.NetIncome.String()); err != nil {
				return fmt.Errorf("pgstore: put financials of %s: %w", f.EntityID, err)
			}
		}
		return nil
	})
}

// methodLabel keeps MethodUnknown as an empty label that ParseMethod accepts.
func methodLabel(m entity.Method) string {
	if m == entity.MethodUnknown {
		return ""
	}
	return m.String()
}

// LoadEntities reads the ownership tree in insertion order.
func (s *Store) LoadEntities(ctx context.Context) ([]entity.Entity, error) {
	rows, err := s.db.Query(ctx, selectEntities)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load entities: %w", err)
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		var (
			e         entity.Entity
			kind      string
			ownership string
			method    string
		)
		if err := rows.Scan(&e.ID, &e.Name, &kind, &e.ParentID, &ownership, &method); err != nil {
			return nil, fmt.Errorf("pgstore: scan entity: %w", err)
		}
		e.Type = entity.Type(kind)
		if e.Ownership, err = decimal.NewFromString(ownership); err != nil {
			return nil, fmt.Errorf("pgstore: ownership of %s: %w", e.ID, err)
		}
		if e.Method, err = entity.ParseMethod(method); err != nil {
			return nil, fmt.Errorf("pgstore: method of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: load entities: %w", err)
	}
	return out, nil
}

// LoadFinancials reads every stored set of figures.
func (s *Store) LoadFinancials(ctx context.Context) ([]consol.Financials, error) {
	rows, err := s.db.Query(ctx, selectFinancials)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load financials: %w", err)
	}
	defer rows.Close()

	var out []consol.Financials
	for rows.Next() {
		var (
			f    consol.Financials
			cols [5]string
		)
		if err := rows.Scan(&f.EntityID, &f.AsOf, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4]); err != nil {
			return nil, fmt.Errorf("pgstore: scan financials: %w", err)
		}
		targets := [5]*decimal.Decimal{&f.Assets, &f.Liabilities, &f.Revenue, &f.Expense, &f.NetIncome}
		for i, raw := range cols {
			if *targets[i], err = decimal.NewFromString(raw); err != nil {
				return nil, fmt.Errorf("pgstore: financials of %s: %w", f.EntityID, err)
			}
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: load financials: %w", err)
	}
	return out, nil
}
