package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/kiosklab/corelink/pkg/diag"
	"github.com/spf13/cobra"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect upstream payloads that failed to parse",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived payloads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(func(a *diag.Archive) error {
				records, err := a.List(limit)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), records)
			})
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print an archived payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(func(a *diag.Archive) error {
				record, err := a.Get(args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(record.Payload)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete payloads older than archive.max_age",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(func(a *diag.Archive) error {
				n, err := a.Prune()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d payloads\n", n)
				return nil
			})
		},
	})

	return cmd
}

func withArchive(fn func(*diag.Archive) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openArchive(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printRecords(out io.Writer, records []diag.Record) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOP\tCREATED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Op, r.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
