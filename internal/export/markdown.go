package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/joelkehle/casegen/internal/recovery"
	"github.com/joelkehle/casegen/internal/schema"
)

// Markdown renders one "## " section per record with "**label**：value"
// lines. Warnings are quoted ahead of the first section so the document
// still parses back into the same records.
func Markdown(c recovery.Collection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", label(c.Schema.Title, c.Schema.Name))
	for _, w := range c.Warnings {
		fmt.Fprintf(&b, "> ⚠️ **警告**: %s\n\n", w.Message)
	}

	id := c.Schema.ID()
	cols := c.Schema.Columns(c.Records)
	for i, r := range c.Records {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s：%s\n", label(id.Label, id.Name), r[id.Name])
		for _, f := range cols[1:] {
			v, ok := r[f.Name]
			if !ok {
				continue
			}
			name := label(f.Label, f.Name)
			if strings.Contains(v, "\n") {
				fmt.Fprintf(&b, "**%s**：\n%s\n", name, v)
			} else {
				fmt.Fprintf(&b, "**%s**：%s\n", name, v)
			}
		}
	}
	return b.String()
}

// JSON renders {"<collection key>": [...]} with fields in schema order.
// Integer fields are written as numbers when they hold one.
func JSON(c recovery.Collection) ([]byte, error) {
	var buf bytes.Buffer
	key, err := json.Marshal(c.Schema.CollectionKey())
	if err != nil {
		return nil, err
	}
	buf.WriteString("{\n  ")
	buf.Write(key)
	buf.WriteString(": [")
	cols := c.Schema.Columns(c.Records)
	for i, r := range c.Records {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n    {")
		first := true
		for _, f := range cols {
			v, ok := r[f.Name]
			if !ok {
				continue
			}
			if !first {
				buf.WriteString(",")
			}
			first = false
			name, _ := json.Marshal(f.Name)
			buf.WriteString("\n      ")
			buf.Write(name)
			buf.WriteString(": ")
			enc, err := encodeValue(f, v)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", f.Name, err)
			}
			buf.Write(enc)
		}
		buf.WriteString("\n    }")
	}
	if len(c.Records) > 0 {
		buf.WriteString("\n  ")
	}
	buf.WriteString("]\n}\n")
	return buf.Bytes(), nil
}

func encodeValue(f schema.Field, v string) ([]byte, error) {
	if f.Kind == schema.Integer {
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			return []byte(v), nil
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
