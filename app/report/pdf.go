// Package report assembles captured charts into a PDF document and a spreadsheet index
package report

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	log "github.com/go-pkgz/lgr"

	"github.com/umputun/chartreport/app/chart"
)

// page geometry in points
const (
	PageWidth = 595.28 // A4 width
	Margin    = 20.0
	TitleBand = 60.0
	a4Height  = 841.89
)

// Page is the geometry of one report page
type Page struct {
	Width, Height float64
	ImageX        float64
	ImageY        float64
	ImageW        float64
	ImageH        float64
}

// Layout computes a page for an image of imgW x imgH pixels. Width is fixed, the image is scaled to the
// content width keeping its aspect ratio and placed below the title band.
func Layout(imgW, imgH int) Page {
	contentW := PageWidth - 2*Margin
	var scaledH float64
	if imgW > 0 && imgH > 0 {
		scaledH = contentW * float64(imgH) / float64(imgW)
	}
	return Page{
		Width:  PageWidth,
		Height: TitleBand + scaledH + Margin,
		ImageX: Margin,
		ImageY: TitleBand,
		ImageW: contentW,
		ImageH: scaledH,
	}
}

// Assembler renders chart records into documents
type Assembler struct {
	Title   string // document title, "Charts" if empty
	Creator string
}

// PDF builds one page per chart record. Records without an image are skipped, no usable record is an error.
func (a *Assembler) PDF(records []chart.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("no charts to render")
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{OrientationStr: "P", UnitStr: "pt", Size: fpdf.SizeType{Wd: PageWidth, Ht: a4Height}})
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	title := a.Title
	if title == "" {
		title = "Charts"
	}
	pdf.SetTitle(title, true)
	if a.Creator != "" {
		pdf.SetCreator(a.Creator, true)
	}
	pdf.SetCreationDate(time.Now())
	tr := pdf.UnicodeTranslatorFromDescriptor("") // core fonts are cp1252

	pages := 0
	for i, rec := range records {
		if rec.Image == nil || len(rec.PNG) == 0 {
			log.Printf("[WARN] chart %q has no image, skipped", rec.Name)
			continue
		}
		b := rec.Image.Bounds()
		pg := Layout(b.Dx(), b.Dy())
		if pg.ImageH == 0 {
			log.Printf("[WARN] chart %q has empty image, skipped", rec.Name)
			continue
		}

		pdf.AddPageFormat("P", fpdf.SizeType{Wd: pg.Width, Ht: pg.Height})
		pdf.SetFont("Helvetica", "B", 16)
		pdf.SetXY(0, 0)
		pdf.CellFormat(pg.Width, TitleBand, tr(rec.Name), "", 0, "C", false, 0, "")

		imgName := fmt.Sprintf("chart-%d", i)
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(imgName, opts, bytes.NewReader(rec.PNG))
		pdf.ImageOptions(imgName, pg.ImageX, pg.ImageY, pg.ImageW, pg.ImageH, false, opts, 0, "")
		if pdf.Err() {
			return nil, fmt.Errorf("failed to render chart %q: %w", rec.Name, pdf.Error())
		}
		pages++
	}
	if pages == 0 {
		return nil, errors.New("no renderable charts")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName makes the download name of a report generated at ts
func FileName(ts time.Time, ext string) string {
	return fmt.Sprintf("charts_%s.%s", ts.Format("20060102_150405"), ext)
}
