package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelkehle/casegen/internal/export"
	"github.com/joelkehle/casegen/internal/recovery"
)

// outputFlags are shared by every command that produces a collection.
type outputFlags struct {
	export string
	output string
}

func (o *outputFlags) register(cmd *cobra.Command, def string) {
	cmd.Flags().StringVar(&o.export, "export", def, "export format: xlsx, markdown, json, html, pdf")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "write to this file instead of stdout")
}

// format validates --export before any model call is made.
func (o *outputFlags) format() (export.Format, bool, error) {
	if o.export == "" {
		return "", false, nil
	}
	f, err := export.ParseFormat(o.export)
	return f, err == nil, err
}

// emit writes the collection in the requested export format, or the
// annotated raw text when none was requested. Binary formats without
// --output go to a timestamped file in the working directory.
func (o *outputFlags) emit(ctx context.Context, cmd *cobra.Command, c recovery.Collection, raw string) error {
	f, ok, err := o.format()
	if err != nil {
		return err
	}
	if !ok {
		return o.write(cmd.OutOrStdout(), []byte(raw))
	}
	var pdf export.Renderer
	if f == export.FormatPDF {
		title := "records"
		if c.Schema != nil {
			title = c.Schema.Title
		}
		pdf = export.NewChromiumPDF(title)
	}
	data, err := export.Encode(ctx, f, c, pdf)
	if err != nil {
		return err
	}
	if o.output == "" && (f == export.FormatXLSX || f == export.FormatPDF) {
		o.output = export.Filename(c, f, time.Now())
	}
	if err := o.write(cmd.OutOrStdout(), data); err != nil {
		return err
	}
	if o.output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d records)\n", o.output, len(c.Records))
	}
	return nil
}

func (o *outputFlags) write(stdout io.Writer, data []byte) error {
	if o.output == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(o.output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", o.output, err)
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
