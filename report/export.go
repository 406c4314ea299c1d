// Package report renders ledger rollups as spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/warp/chit-ledger/ledger"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the workbooks written here.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const dateFormat = "02-01-2006"

// sheet wraps an excelize sheet with header and money styles.
type sheet struct {
	f     *excelize.File
	name  string
	money int
	bold  int
	row   int
}

func newSheet(f *excelize.File, name string, first bool) (*sheet, error) {
	if first {
		if err := f.SetSheetName("Sheet1", name); err != nil {
			return nil, err
		}
	} else if _, err := f.NewSheet(name); err != nil {
		return nil, err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	return &sheet{f: f, name: name, money: money, bold: bold}, nil
}

// header writes a bold row.
func (s *sheet) header(titles ...string) error {
	if err := s.values(titles...); err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, s.row)
	last, _ := excelize.CoordinatesToCellName(len(titles), s.row)
	return s.f.SetCellStyle(s.name, first, last, s.bold)
}

func (s *sheet) values(values ...string) error {
	s.row++
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, s.row)
		if err != nil {
			return err
		}
		if err := s.f.SetCellValue(s.name, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// set writes one cell of the current row. decimal.Decimal values are written
// as numbers with the money format.
func (s *sheet) set(col int, v any) error {
	cell, err := excelize.CoordinatesToCellName(col, s.row)
	if err != nil {
		return err
	}
	if d, ok := v.(decimal.Decimal); ok {
		if err := s.f.SetCellValue(s.name, cell, d.InexactFloat64()); err != nil {
			return err
		}
		return s.f.SetCellStyle(s.name, cell, cell, s.money)
	}
	return s.f.SetCellValue(s.name, cell, v)
}

func (s *sheet) line(values ...any) error {
	s.row++
	for i, v := range values {
		if err := s.set(i+1, v); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PENDING BY GROUP AND MONTH
// =============================================================================

// PendingWorkbook renders the group × month pending report, plus a totals row.
func PendingWorkbook(rows []ledger.GroupMonthPending) (*excelize.File, error) {
	f := excelize.NewFile()
	s, err := newSheet(f, "Pending", true)
	if err != nil {
		return nil, err
	}
	if err := s.header("Group", "Chit Month", "Auction Date", "Pending Members", "Total Pending", "Credit"); err != nil {
		return nil, err
	}

	total, credit := decimal.Zero, decimal.Zero
	for _, r := range rows {
		auctionDate := ""
		if !r.AuctionDate.IsZero() {
			auctionDate = r.AuctionDate.Format(dateFormat)
		}
		if err := s.line(groupLabel(r.GroupName, r.GroupID), string(r.ChitMonth), auctionDate, r.PendingMembers, r.TotalPending, r.TotalCredit); err != nil {
			return nil, err
		}
		total = total.Add(r.TotalPending)
		credit = credit.Add(r.TotalCredit)
	}
	if err := s.line("Total", "", "", "", total, credit); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(s.name, "A", "A", 28)
	_ = f.SetColWidth(s.name, "B", "F", 16)
	return f, nil
}

// =============================================================================
// CLIENT STATEMENT
// =============================================================================

// StatementWorkbook renders a client statement with a summary sheet and a
// receipt history sheet.
func StatementWorkbook(st ledger.ClientStatement) (*excelize.File, error) {
	f := excelize.NewFile()
	summary, err := newSheet(f, "Summary", true)
	if err != nil {
		return nil, err
	}
	period := "All months"
	if st.Month != "" {
		period = string(st.Month)
	}
	if err := summary.line("Client", st.ClientName); err != nil {
		return nil, err
	}
	if err := summary.line("Period", period); err != nil {
		return nil, err
	}
	if err := summary.line("Total Pending", st.TotalPending); err != nil {
		return nil, err
	}
	summary.row++

	if err := summary.header("Group", "Chit Count", "Chit Value"); err != nil {
		return nil, err
	}
	for _, g := range st.Groups {
		if err := summary.line(groupLabel(g.GroupName, g.GroupID), g.ChitCount.String(), g.ChitValue); err != nil {
			return nil, err
		}
	}
	summary.row++

	if err := summary.header("Group", "Pending Months", "Pending", "Credit"); err != nil {
		return nil, err
	}
	for _, p := range st.PendingByGroup {
		if err := summary.line(groupLabel(p.GroupName, p.GroupID), joinMonths(p.PendingMonths), p.TotalPending, p.TotalCredit); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(summary.name, "A", "A", 28)
	_ = f.SetColWidth(summary.name, "B", "D", 18)

	history, err := newSheet(f, "History", false)
	if err != nil {
		return nil, err
	}
	if err := history.header("Date", "Group", "Chit Month", "Method", "Amount"); err != nil {
		return nil, err
	}
	for _, h := range st.History {
		if err := history.line(h.PaymentDate.Format(dateFormat), groupLabel(h.GroupName, h.GroupID), string(h.ChitMonth), string(h.Method), h.Amount); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(history.name, "A", "E", 16)
	return f, nil
}

// Write streams f to w and closes it.
func Write(w io.Writer, f *excelize.File) error {
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func groupLabel(name string, id ledger.GroupID) string {
	if name != "" {
		return name
	}
	return string(id)
}

func joinMonths(months []ledger.ChitMonth) string {
	out := ""
	for i, m := range months {
		if i > 0 {
			out += ", "
		}
		out += string(m)
	}
	return out
}
