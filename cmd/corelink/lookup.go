package main

import (
	"errors"
	"fmt"

	"github.com/kiosklab/corelink/pkg/dna"
	"github.com/spf13/cobra"
)

func newLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Query the core banking system directly, bypassing the caches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "person <member-number>",
		Short: "Print the person record of a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, err := lookupUpstreams()
			if err != nil {
				return err
			}
			defer up.Close()
			person, err := up.dna.FetchPersonByMemberNumber(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), person)
		},
	})

	var limit int
	transactionsCmd := &cobra.Command{
		Use:   "transactions <account-number>",
		Short: "Print the latest transactions of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, err := lookupUpstreams()
			if err != nil {
				return err
			}
			defer up.Close()
			txs, err := up.dna.FetchTransactions(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), txs)
		},
	}
	transactionsCmd.Flags().IntVarP(&limit, "limit", "n", dna.DefaultTransactionLimit, "number of transactions")
	cmd.AddCommand(transactionsCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "loans <member-number>",
		Short: "Print the loan applications of a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, err := lookupUpstreams()
			if err != nil {
				return err
			}
			defer up.Close()
			if up.loans == nil {
				return errors.New("loans are not configured")
			}
			person, err := up.dna.FetchPersonByMemberNumber(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if person.TaxID == "" {
				return fmt.Errorf("member %s has no tax id on file", args[0])
			}
			list, err := up.loans.FetchLoansBySSN(cmd.Context(), person.TaxID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "loan <loan-id>",
		Short: "Print the details of a loan application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, err := lookupUpstreams()
			if err != nil {
				return err
			}
			defer up.Close()
			if up.loans == nil {
				return errors.New("loans are not configured")
			}
			detail, err := up.loans.FetchLoan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), detail)
		},
	})

	return cmd
}

func lookupUpstreams() (*upstreams, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newUpstreams(cfg)
}
