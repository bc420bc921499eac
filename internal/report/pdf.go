package report

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const qrImageName = "sha256-qr"

// SavePDF renders the summary into a PDF document.
func SavePDF(s Summary, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Survey Line Report", false)
	pdf.SetAuthor("gsfctl", false)
	pdf.SetCreator("gsfctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Survey Line Report")
	if err := addFileSection(pdf, s); err != nil {
		return err
	}
	addRecordsSection(pdf, s.Records)
	addPingSection(pdf, s)
	addBeamSection(pdf, s.Beams)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, title)
	pdf.Ln(9)
}

type labelValue struct {
	label string
	value string
}

func addItems(pdf *gofpdf.Fpdf, items []labelValue) {
	pdf.SetFont("Helvetica", "", 11)
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, emptyFallback(item.value, "-"), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addFileSection(pdf *gofpdf.Fpdf, s Summary) error {
	top := pdf.GetY()
	addSectionTitle(pdf, "File")
	addItems(pdf, []labelValue{
		{label: "Name", value: s.File},
		{label: "Format", value: s.Version},
		{label: "Size", value: fmt.Sprintf("%d bytes", s.Size)},
		{label: "Generated", value: s.GeneratedAt.Format(time.RFC3339)},
	})
	pdf.SetFont("Courier", "", 8)
	pdf.MultiCell(0, 4, "SHA-256 "+s.SHA256, "", "L", false)
	pdf.Ln(4)

	if s.SHA256 == "" {
		return nil
	}
	png, err := DigestQR(s.SHA256, 256)
	if err != nil {
		return err
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))
	pageW, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	pdf.ImageOptions(qrImageName, pageW-right-30, top, 30, 30, false, opts, 0, "")
	return nil
}

func addRecordsSection(pdf *gofpdf.Fpdf, records map[string]int) {
	addSectionTitle(pdf, "Records")
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	widths := []float64{90, 30}
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range []string{"Record Type", "Count"} {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 9)
	for _, name := range names {
		pdf.CellFormat(widths[0], 6, name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, strconv.Itoa(records[name]), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)
}

func addPingSection(pdf *gofpdf.Fpdf, s Summary) {
	addSectionTitle(pdf, "Pings")
	items := []labelValue{
		{label: "Decoded", value: strconv.Itoa(s.Pings)},
		{label: "Decode Errors", value: strconv.Itoa(s.DecodeErrors)},
		{label: "First Ping", value: formatTime(s.FirstPing)},
		{label: "Last Ping", value: formatTime(s.LastPing)},
		{label: "Frequencies", value: formatFrequencies(s.Frequencies)},
		{label: "Missing Scale Factors", value: strings.Join(s.MissingScaleFactors, ", ")},
	}
	if s.Bounds != nil {
		items = append(items,
			labelValue{label: "Longitude", value: fmt.Sprintf("%.7f .. %.7f", s.Bounds.MinLongitude, s.Bounds.MaxLongitude)},
			labelValue{label: "Latitude", value: fmt.Sprintf("%.7f .. %.7f", s.Bounds.MinLatitude, s.Bounds.MaxLatitude)},
		)
	}
	if s.Truncated {
		items = append(items, labelValue{label: "Warning", value: "file ends inside a record"})
	}
	addItems(pdf, items)
}

func addBeamSection(pdf *gofpdf.Fpdf, b BeamStats) {
	addSectionTitle(pdf, "Beams")
	if b.Total == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No beams decoded.", "", "L", false)
		return
	}
	addItems(pdf, []labelValue{
		{label: "Beams", value: strconv.Itoa(b.Total)},
		{label: "Depth", value: fmt.Sprintf("%.2f .. %.2f m (mean %.2f, sd %.2f)", b.DepthMin, b.DepthMax, b.DepthMean, b.DepthStdDev)},
		{label: "Mean Intensity", value: fmt.Sprintf("%.2f", b.IntensityMean)},
		{label: "Mean Backscatter", value: fmt.Sprintf("%.2f dB", b.BackscatterMean)},
	})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05.000")
}

func formatFrequencies(freqs []float64) string {
	parts := make([]string, 0, len(freqs))
	for _, f := range freqs {
		parts = append(parts, fmt.Sprintf("%g kHz", f/1000))
	}
	return strings.Join(parts, ", ")
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
