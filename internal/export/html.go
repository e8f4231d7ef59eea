package export

import (
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joelkehle/casegen/internal/recovery"
)

const documentCSS = "body{font-family:-apple-system,'PingFang SC','Microsoft YaHei',sans-serif;color:#1c1917;max-width:1000px;margin:0 auto;padding:1rem;line-height:1.55;} " +
	"h1{font-size:1.4rem;border-bottom:2px solid #92400e;padding-bottom:0.3rem;} " +
	"h2{font-size:1.1rem;margin-top:1.6rem;break-after:avoid;page-break-after:avoid;} " +
	"blockquote{margin:0.6rem 0;padding:0.4rem 0.8rem;background:#fef3c7;border-left:3px solid #f59e0b;color:#78350f;} " +
	"table{width:100%;border-collapse:collapse;font-size:0.85rem;} th,td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;} " +
	"@media print{ @page{size:auto;margin:12mm;} body{padding:0;max-width:none;} }"

// HTML renders the markdown document as a standalone page.
func HTML(c recovery.Collection) (string, error) {
	return MarkdownToHTML(label(c.Schema.Title, c.Schema.Name), Markdown(c))
}

// MarkdownToHTML converts GitHub-flavoured markdown into a styled page.
// Single newlines inside a paragraph become line breaks so numbered steps
// stay on their own lines.
func MarkdownToHTML(title, markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", err
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(title) + "</title>" +
		"<style>" + documentCSS + " p{white-space:pre-line;}</style></head><body>" +
		content.String() +
		"</body></html>", nil
}
