package export

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
)

// Sheet names of the workbook.
const (
	SheetStatement    = "Statement"
	SheetEliminations = "Eliminations"
	SheetPerimeter    = "Perimeter"
)

// WriteXLSX renders the statement, journal and perimeter as a workbook.
func WriteXLSX(w io.Writer, st consol.Statement) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetStatement); err != nil {
		return err
	}
	for _, name := range []string{SheetEliminations, SheetPerimeter} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}
	numFmt := "#,##0.00"
	amountStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return err
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	sheet := &sheetWriter{f: f, amountStyle: amountStyle, boldStyle: boldStyle}

	sheet.name = SheetStatement
	sheet.header("Section", "Line", "Gross", "Elimination", "Consolidated")
	for _, r := range Rows(st) {
		sheet.next()
		sheet.text(1, r.Section)
		sheet.text(2, r.Label)
		sheet.amount(3, r.Gross)
		sheet.amount(4, r.Elimination)
		sheet.amount(5, r.Consolidated)
	}

	sheet.name, sheet.row = SheetEliminations, 0
	sheet.header("Ref", "Kind", "Debit account", "Debit entity", "Credit account", "Credit entity", "Amount")
	for _, e := range st.Eliminations.Entries {
		sheet.next()
		sheet.text(1, e.Ref)
		sheet.text(2, string(e.Kind))
		sheet.text(3, e.Debit.Account)
		sheet.text(4, e.Debit.EntityID)
		sheet.text(5, e.Credit.Account)
		sheet.text(6, e.Credit.EntityID)
		sheet.amount(7, e.Debit.Amount)
	}

	sheet.name, sheet.row = SheetPerimeter, 0
	sheet.header("Entity", "Name", "Parent", "Method", "Ownership %", "Effective %", "Treatment")
	for _, m := range st.Perimeter {
		sheet.next()
		sheet.text(1, m.EntityID)
		sheet.text(2, m.Name)
		sheet.text(3, m.ParentID)
		sheet.text(4, m.Method.String())
		sheet.amount(5, m.Ownership)
		sheet.amount(6, m.Effective)
		sheet.text(7, string(m.Treatment))
	}
	if sheet.err != nil {
		return sheet.err
	}
	return f.Write(w)
}

// sheetWriter fills one sheet row by row and keeps the first error.
type sheetWriter struct {
	f           *excelize.File
	name        string
	row         int
	amountStyle int
	boldStyle   int
	err         error
}

func (s *sheetWriter) next() {
	s.row++
}

func (s *sheetWriter) header(labels ...string) {
	s.next()
	for i, l := range labels {
		s.text(i+1, l)
	}
	first, _ := excelize.CoordinatesToCellName(1, s.row)
	last, _ := excelize.CoordinatesToCellName(len(labels), s.row)
	s.keep(s.f.SetCellStyle(s.name, first, last, s.boldStyle))
}

func (s *sheetWriter) text(col int, v string) {
	s.keep(s.f.SetCellStr(s.name, s.cell(col), v))
}

func (s *sheetWriter) amount(col int, v decimal.Decimal) {
	cell := s.cell(col)
	s.keep(s.f.SetCellFloat(s.name, cell, v.InexactFloat64(), 2, 64))
	s.keep(s.f.SetCellStyle(s.name, cell, cell, s.amountStyle))
}

func (s *sheetWriter) cell(col int) string {
	name, err := excelize.CoordinatesToCellName(col, s.row)
	if err != nil {
		s.keep(fmt.Errorf("export: cell %d,%d: %w", col, s.row, err))
	}
	return name
}

func (s *sheetWriter) keep(err error) {
	if err != nil && s.err == nil {
		s.err = err
	}
}
