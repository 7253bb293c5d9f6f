package entity

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Type classifies an entity inside the ownership structure.
type Type string

const (
	TypeFamilyOffice      Type = "FAMILY_OFFICE"
	TypeHoldingCompany    Type = "HOLDING_COMPANY"
	TypeProjectEntity     Type = "PROJECT_ENTITY"
	TypeAssetEntity       Type = "ASSET_ENTITY"
	TypeOperatingBusiness Type = "OPERATING_BUSINESS"
	TypeFund              Type = "FUND"
)

// Valid reports whether the type is one of the known entity types.
func (t Type) Valid() bool {
	switch t {
	case TypeFamilyOffice, TypeHoldingCompany, TypeProjectEntity, TypeAssetEntity, TypeOperatingBusiness, TypeFund:
		return true
	}
	return false
}

// Method selects how a child is combined into its parent during consolidation.
type Method uint8

const (
	// MethodUnknown is the zero value and is rejected by the consolidation engine.
	MethodUnknown Method = iota
	// MethodFull adds 100% of the child's line items and computes minority interest.
	MethodFull
	// MethodEquity adds only the parent's share of net income and net assets.
	MethodEquity
	// MethodNone excludes the child from the consolidation run.
	MethodNone
)

// String implements fmt.Stringer.
func (m Method) String() string {
	switch m {
	case MethodFull:
		return "FULL"
	case MethodEquity:
		return "EQUITY"
	case MethodNone:
		return "NONE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
}

// ParseMethod maps the directory label of a consolidation method onto Method.
func ParseMethod(raw string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "FULL", "FULL CONSOLIDATION":
		return MethodFull, nil
	case "EQUITY", "EQUITY METHOD":
		return MethodEquity, nil
	case "NONE":
		return MethodNone, nil
	case "":
		return MethodUnknown, nil
	}
	return MethodUnknown, fmt.Errorf("entity: unknown consolidation method %q", raw)
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(b []byte) error {
	parsed, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

var hundred = decimal.NewFromInt(100)

// Entity is one node of the ownership tree as supplied by the entity directory.
type Entity struct {
	ID       string
	Name     string
	Type     Type
	ParentID string
	// Ownership is the percentage (0-100) of this entity held by its parent.
	Ownership decimal.Decimal
	Method    Method
}

// IsRoot reports whether the entity has no parent.
func (e Entity) IsRoot() bool {
	return e.ParentID == ""
}

// OwnershipFraction returns Ownership expressed as a fraction of one.
func (e Entity) OwnershipFraction() decimal.Decimal {
	return e.Ownership.Div(hundred)
}

func validOwnership(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred)
}
