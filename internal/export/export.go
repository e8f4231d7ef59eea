// Package export renders recovered collections as spreadsheets, markdown,
// canonical JSON, HTML and PDF.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joelkehle/casegen/internal/recovery"
)

// Format selects an output encoding.
type Format string

const (
	FormatXLSX     Format = "xlsx"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

// ParseFormat accepts the format names and their common spellings.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xlsx", "excel", "xls":
		return FormatXLSX, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "html", "htm":
		return FormatHTML, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Extension is the file extension without the dot.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// ContentType is the MIME type of the encoding.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Filename is a timestamped download name such as 测试用例_202503191112.xlsx.
func Filename(c recovery.Collection, f Format, now time.Time) string {
	title := "records"
	if c.Schema != nil && c.Schema.Title != "" {
		title = c.Schema.Title
	}
	return fmt.Sprintf("%s_%s.%s", title, now.Format("200601021504"), f.Extension())
}

// Renderer turns a markdown document into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, markdown string) ([]byte, error)
}

// Encode renders c in format f. pdf is only consulted for FormatPDF.
func Encode(ctx context.Context, f Format, c recovery.Collection, pdf Renderer) ([]byte, error) {
	if c.Schema == nil {
		return nil, fmt.Errorf("export %s: collection has no schema", f)
	}
	switch f {
	case FormatXLSX:
		return XLSX(c)
	case FormatMarkdown:
		return []byte(Markdown(c)), nil
	case FormatJSON:
		return JSON(c)
	case FormatHTML:
		doc, err := HTML(c)
		return []byte(doc), err
	case FormatPDF:
		if pdf == nil {
			return nil, fmt.Errorf("export pdf: no renderer configured")
		}
		return pdf.Render(ctx, Markdown(c))
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

// Rows returns a header row of field labels followed by one row per
// record, in schema column order.
func Rows(c recovery.Collection) [][]string {
	cols := c.Schema.Columns(c.Records)
	header := make([]string, len(cols))
	for i, f := range cols {
		header[i] = label(f.Label, f.Name)
	}
	rows := [][]string{header}
	for _, r := range c.Records {
		row := make([]string, len(cols))
		for i, f := range cols {
			row[i] = r[f.Name]
		}
		rows = append(rows, row)
	}
	return rows
}

func label(l, fallback string) string {
	if l != "" {
		return l
	}
	return fallback
}
