package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joelkehle/casegen/internal/generate"
	"github.com/joelkehle/casegen/internal/pdftext"
	"github.com/joelkehle/casegen/internal/recovery"
	"github.com/joelkehle/casegen/internal/schema"
	"github.com/joelkehle/casegen/internal/store"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		input    string
		level    string
		priority string
		count    int
		edge     bool
		negative bool
		format   string
		stream   bool
		out      outputFlags
	)
	cmd := &cobra.Command{
		Use:   "generate [description]",
		Short: "Generate test cases for a requirement description",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := out.format(); err != nil {
				return err
			}
			desc := ""
			if len(args) == 1 {
				desc = args[0]
			} else {
				text, err := readInput(cmd, input)
				if err != nil {
					return err
				}
				desc = text
			}
			f, err := generate.ParseFormat(format)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("count") {
				count = a.cfg.Generation.Count
			}
			if !cmd.Flags().Changed("level") {
				level = a.cfg.Generation.Level
			}
			if !cmd.Flags().Changed("priority") {
				priority = a.cfg.Generation.Priority
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			req := generate.TestCaseRequest{
				Description:      desc,
				Level:            level,
				Priority:         priority,
				Count:            count,
				IncludeEdgeCases: edge,
				IncludeNegative:  negative,
				Format:           f,
			}
			if stream {
				stderr := cmd.ErrOrStderr()
				req.Progress = func(fragment string) { fmt.Fprint(stderr, fragment) }
			}
			res, err := svc.GenerateTestCases(cmd.Context(), req)
			if stream {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}
			return out.emit(cmd.Context(), cmd, res.Collection, res.Annotated())
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "read the description from a file (- for stdin)")
	cmd.Flags().StringVar(&level, "level", generate.DefaultLevel, "test level")
	cmd.Flags().StringVar(&priority, "priority", generate.DefaultPriority, "test priority")
	cmd.Flags().IntVarP(&count, "count", "n", generate.DefaultCount, "number of test cases (1-30)")
	cmd.Flags().BoolVar(&edge, "edge-cases", true, "ask for boundary cases")
	cmd.Flags().BoolVar(&negative, "negative", true, "ask for negative cases")
	cmd.Flags().StringVar(&format, "format", "markdown", "response layout requested from the model: markdown or json")
	cmd.Flags().BoolVar(&stream, "stream", false, "echo the response to stderr while it streams")
	out.register(cmd, "")
	return cmd
}

func newParseCmd(a *app) *cobra.Command {
	var (
		schemaName string
		expected   int
		out        outputFlags
	)
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Recover records from a saved model response without calling a model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := out.format(); err != nil {
				return err
			}
			sc, ok := schema.Lookup(schemaName)
			if !ok {
				return fmt.Errorf("unknown schema %q", schemaName)
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			text, err := readInput(cmd, path)
			if err != nil {
				return err
			}
			p, err := recovery.New(sc, recovery.Options{Reflow: a.cfg.ReflowMode(), Logger: a.logger})
			if err != nil {
				return err
			}
			c := p.Recover(text, expected)
			return out.emit(cmd.Context(), cmd, c, text)
		},
	}
	cmd.Flags().StringVar(&schemaName, "schema", "testcase", "record schema: testcase or requirement")
	cmd.Flags().IntVar(&expected, "expected", 0, "expected record count (0 skips the count check)")
	out.register(cmd, "json")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		save bool
		out  outputFlags
	)
	cmd := &cobra.Command{
		Use:   "analyze <document>",
		Short: "Analyze a requirement document (.pdf, .txt, .md) into structured requirements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := out.format(); err != nil {
				return err
			}
			doc, err := pdftext.ReadDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			an, err := svc.AnalyzeRequirements(cmd.Context(), doc.Text)
			if err != nil {
				return err
			}
			if doc.Truncated || an.Truncated {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: document was truncated before analysis")
			}
			if save && !an.Requirements.Collection.Empty() {
				st, err := a.openStore(a.cfg.Store.Path)
				if err != nil {
					return err
				}
				defer st.Close()
				n, err := st.SaveCollection(cmd.Context(), an.Requirements.Collection)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %d requirements to %s\n", n, a.cfg.Store.Path)
			}
			raw := an.Report + "\n\n" + an.Requirements.Annotated()
			return out.emit(cmd.Context(), cmd, an.Requirements.Collection, raw)
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "store the extracted requirements")
	out.register(cmd, "")
	return cmd
}

func newFromRequirementsCmd(a *app) *cobra.Command {
	var out outputFlags
	cmd := &cobra.Command{
		Use:   "from-requirements [requirement-id...]",
		Short: "Generate test cases from stored requirements (all of them when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := out.format(); err != nil {
				return err
			}
			st, err := a.openStore(a.cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			var rows []store.Requirement
			if len(args) == 0 {
				rows, err = st.ReadAll(cmd.Context())
				if err != nil {
					return err
				}
			}
			for _, id := range args {
				q, err := st.ReadByID(cmd.Context(), strings.TrimSpace(id))
				if err != nil {
					return fmt.Errorf("requirement %s: %w", id, err)
				}
				rows = append(rows, q)
			}
			if len(rows) == 0 {
				return fmt.Errorf("no stored requirements in %s", a.cfg.Store.Path)
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			res, err := svc.GenerateFromRequirements(cmd.Context(), store.Records(rows))
			if err != nil {
				return err
			}
			return out.emit(cmd.Context(), cmd, res.Collection, res.Annotated())
		},
	}
	out.register(cmd, "")
	return cmd
}
