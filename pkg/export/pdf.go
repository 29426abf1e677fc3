package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfPageWidth = 277.0 // A4 landscape minus margins
	pdfRowHeight = 7.0
)

// PDFExporter renders tables into a landscape A4 document with a repeated header row.
type PDFExporter struct {
	// Weights sizes columns proportionally; missing or short weights fall back to equal widths.
	Weights []float64
}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter(weights ...float64) *PDFExporter {
	return &PDFExporter{Weights: weights}
}

// ContentType reports the MIME type of rendered documents.
func (e *PDFExporter) ContentType() string { return "application/pdf" }

// Extension reports the file extension of rendered documents.
func (e *PDFExporter) Extension() string { return "pdf" }

// Render creates the PDF document.
func (e *PDFExporter) Render(table Table) ([]byte, error) {
	if err := table.validate(); err != nil {
		return nil, err
	}
	widths := e.columnWidths(len(table.Headers))

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	// Core fonts are cp1252; the translator keeps the placeholder dash readable.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetHeaderFunc(func() {
		if table.Title != "" {
			pdf.SetFont("Arial", "B", 13)
			pdf.CellFormat(0, 8, tr(table.Title), "", 1, "L", false, 0, "")
		}
		if table.Subtitle != "" {
			pdf.SetFont("Arial", "", 9)
			pdf.CellFormat(0, 6, tr(table.Subtitle), "", 1, "L", false, 0, "")
		}
		pdf.Ln(2)
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for i, header := range table.Headers {
			pdf.CellFormat(widths[i], pdfRowHeight+1, tr(header), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 6, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.AliasNbPages("")
	pdf.AddPage()

	pdf.SetFont("Arial", "", 9)
	for _, row := range table.Rows {
		for i, value := range row {
			align := "L"
			if i > 0 {
				align = "C"
			}
			pdf.CellFormat(widths[i], pdfRowHeight, tr(value), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) columnWidths(columns int) []float64 {
	widths := make([]float64, columns)
	if len(e.Weights) < columns {
		for i := range widths {
			widths[i] = pdfPageWidth / float64(columns)
		}
		return widths
	}
	var total float64
	for _, w := range e.Weights[:columns] {
		total += w
	}
	for i := range widths {
		widths[i] = pdfPageWidth * e.Weights[i] / total
	}
	return widths
}
