// Package payslip renders a paid salary record as a one-page PDF.
package payslip

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/warp/holdpay/generic"
)

// Render returns the PDF bytes of rec's payslip. Only paid records have one.
func Render(emp generic.Employee, rec generic.SalaryRecord) ([]byte, error) {
	if !rec.IsPaid() {
		return nil, generic.NotFoundf("payslip for %s %s: month not processed", rec.EmployeeID, rec.Month)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Payslip %s %s", emp.ID, rec.Month), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Payslip")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Employee: %s (%s)", emp.Name, emp.ID))
	pdf.Ln(7)
	if emp.Email != "" {
		pdf.Cell(0, 8, fmt.Sprintf("Email: %s", emp.Email))
		pdf.Ln(7)
	}
	pdf.Cell(0, 8, fmt.Sprintf("Month: %s", rec.Month))
	pdf.Ln(7)
	if rec.PaymentDate != nil {
		pdf.Cell(0, 8, fmt.Sprintf("Paid on: %s via %s", rec.PaymentDate.Format("2006-01-02"), rec.PaymentMode))
		pdf.Ln(7)
	}
	pdf.Ln(5)

	lines := []struct {
		label  string
		amount decimal.Decimal
	}{
		{"Gross salary", rec.GrossSalary},
		{"Fixed deductions", rec.FixedDeductions.Neg()},
		{"Leave deductions", rec.LeaveDeductions.Neg()},
		{fmt.Sprintf("Hold (%s%%)", rec.HoldPercent.String()), rec.HoldAmount.Neg()},
	}
	for _, l := range lines {
		pdf.CellFormat(100, 8, l.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(50, 8, l.amount.StringFixed(2), "", 1, "R", false, 0, "")
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(100, 8, "Payable net", "T", 0, "L", false, 0, "")
	pdf.CellFormat(50, 8, rec.PayableNet.StringFixed(2), "T", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render payslip: %w", err)
	}
	return buf.Bytes(), nil
}
