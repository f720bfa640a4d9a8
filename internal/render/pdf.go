// Package render turns worksheets into downloadable documents.
package render

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"codeberg.org/go-pdf/fpdf"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/caseworks/worksheet-service/internal/models"
	"github.com/caseworks/worksheet-service/internal/observability"
)

// Config controls page layout for rendered worksheets.
type Config struct {
	PageSize     string
	MarginsMM    float64
	FontFamily   string
	PrimaryColor [3]int
	AnswerLines  int // ruled answer lines under each open question
}

// DefaultConfig is the layout used by the HTTP handler.
func DefaultConfig() Config {
	return Config{
		PageSize:     "A4",
		MarginsMM:    19, // 0.75in
		FontFamily:   "Helvetica",
		PrimaryColor: [3]int{0, 28, 46},
		AnswerLines:  3,
	}
}

// PDFRenderer renders a worksheet to PDF.
type PDFRenderer struct {
	cfg   Config
	title cases.Caser
}

// NewPDFRenderer creates a renderer with the given layout config.
func NewPDFRenderer(cfg Config) *PDFRenderer {
	if cfg.PageSize == "" {
		cfg.PageSize = "A4"
	}
	if cfg.FontFamily == "" {
		cfg.FontFamily = "Helvetica"
	}
	if cfg.AnswerLines <= 0 {
		cfg.AnswerLines = 3
	}
	return &PDFRenderer{cfg: cfg, title: cases.Title(language.English)}
}

// Render writes the worksheet as a PDF document to w.
func (p *PDFRenderer) Render(ws models.Worksheet, w io.Writer) error {
	pdf := fpdf.New("P", "mm", p.cfg.PageSize, "")
	pdf.SetMargins(p.cfg.MarginsMM, p.cfg.MarginsMM, p.cfg.MarginsMM)
	pdf.SetTitle(ws.Title, true)

	// Page header: subject left, date right.
	date := time.Now().Format("02.01.06")
	subject := p.title.String(ws.Subject)
	pdf.SetHeaderFunc(func() {
		pdf.SetFont(p.cfg.FontFamily, "", 10)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 6, subject, "", 0, "L", false, 0, "")
		pdf.SetX(-60)
		pdf.CellFormat(0, 6, date, "", 1, "R", false, 0, "")
		pdf.Ln(4)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(p.cfg.FontFamily, "", 9)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	// Title
	pdf.SetFont(p.cfg.FontFamily, "B", 18)
	pdf.SetTextColor(40, 40, 40)
	pdf.MultiCell(0, 10, ws.Title, "", "L", false)
	pdf.Ln(8)

	r, g, b := p.cfg.PrimaryColor[0], p.cfg.PrimaryColor[1], p.cfg.PrimaryColor[2]
	for _, q := range ws.Questions {
		pdf.SetFont(p.cfg.FontFamily, "B", 13)
		pdf.SetTextColor(r, g, b)
		pdf.MultiCell(0, 7, fmt.Sprintf("%d) %s", q.Number, q.Text), "", "L", false)
		pdf.Ln(2)
		p.answerSpace(pdf, q.Kind)
		pdf.Ln(4)
	}

	err := pdf.Output(w)
	if err != nil {
		observability.PDFRendersTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("render pdf: %w", err)
	}
	observability.PDFRendersTotal.WithLabelValues("success").Inc()
	return nil
}

// answerSpace draws the space a student writes into: ruled lines for open
// questions, lettered option rows for multiple choice.
func (p *PDFRenderer) answerSpace(pdf *fpdf.Fpdf, kind models.QuestionKind) {
	pdf.SetFont(p.cfg.FontFamily, "", 12)
	pdf.SetTextColor(40, 40, 40)
	switch kind {
	case models.KindMultipleChoice:
		pdf.SetDrawColor(160, 160, 160)
		for _, opt := range []string{"a)", "b)", "c)", "d)"} {
			pdf.CellFormat(10, 7, opt, "", 0, "L", false, 0, "")
			x, y := pdf.GetXY()
			pdf.Line(x, y+5.5, x+60, y+5.5)
			pdf.Ln(7)
		}
	default:
		pdf.SetDrawColor(160, 160, 160)
		pageW, _ := pdf.GetPageSize()
		for i := 0; i < p.cfg.AnswerLines; i++ {
			x, y := pdf.GetXY()
			pdf.Line(x, y+6, pageW-p.cfg.MarginsMM, y+6)
			pdf.Ln(8)
		}
	}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Filename slugifies a worksheet title into its download filename
// ("Mathematics Worksheet on Fractions" -> "mathematics-worksheet-on-fractions.pdf").
func Filename(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "worksheet"
	}
	return s + ".pdf"
}
