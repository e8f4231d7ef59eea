package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joelkehle/casegen/internal/recovery"
	"github.com/joelkehle/casegen/internal/schema"
	"github.com/joelkehle/casegen/internal/store"
)

func newRequirementsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "requirements",
		Aliases: []string{"req"},
		Short:   "Manage stored business requirements",
	}
	cmd.AddCommand(
		newRequirementsListCmd(a),
		newRequirementsGetCmd(a),
		newRequirementsDeleteCmd(a),
		newRequirementsImportCmd(a),
	)
	return cmd
}

func (a *app) withStore(fn func(*store.Store) error) error {
	st, err := a.openStore(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func newRequirementsListCmd(a *app) *cobra.Command {
	var out outputFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored requirements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, _, err := out.format(); err != nil {
				return err
			}
			return a.withStore(func(st *store.Store) error {
				rows, err := st.ReadAll(cmd.Context())
				if err != nil {
					return err
				}
				if out.export != "" {
					c := recovery.Collection{Schema: schema.Requirement, Records: store.Records(rows), Source: "store"}
					return out.emit(cmd.Context(), cmd, c, "")
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tTYPE\tMODULE\tLEVEL\tHOURS")
				for _, q := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", q.RequirementID, q.RequirementName, q.RequirementType, q.Module, q.RequirementLevel, q.EstimatedHours)
				}
				return w.Flush()
			})
		},
	}
	out.register(cmd, "")
	return cmd
}

func newRequirementsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <requirement-id>",
		Short: "Print one stored requirement as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st *store.Store) error {
				q, err := st.ReadByID(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("requirement %s: %w", args[0], err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				return enc.Encode(q)
			})
		},
	}
}

func newRequirementsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <requirement-id>",
		Short: "Delete a stored requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st *store.Store) error {
				if err := st.Delete(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("requirement %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newRequirementsImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Recover requirements from a saved model response and store them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			text, err := readInput(cmd, path)
			if err != nil {
				return err
			}
			p, err := recovery.New(schema.Requirement, recovery.Options{Reflow: a.cfg.ReflowMode(), Logger: a.logger})
			if err != nil {
				return err
			}
			c := p.Recover(text, 0)
			for _, w := range c.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "警告：%s\n", w.Message)
			}
			if c.Empty() {
				return fmt.Errorf("no requirements recovered from input")
			}
			return a.withStore(func(st *store.Store) error {
				n, err := st.SaveCollection(cmd.Context(), c)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d requirements (%s)\n", n, c.Source)
				return nil
			})
		},
	}
}
