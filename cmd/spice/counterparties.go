package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/statement-spice/internal/cli"
	"github.com/Veraticus/statement-spice/internal/common"
)

func counterpartiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "counterparties",
		Aliases: []string{"cp"},
		Short:   "Manage counterparty accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List counterparty accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			counterparties, err := store.GetCounterparties(ctx, owner())
			if err != nil {
				return fmt.Errorf("failed to get counterparties: %w", err)
			}
			if len(counterparties) == 0 {
				printLine(out, cli.FormatInfo("No counterparties found."))
				return nil
			}

			rows := make([][]string, 0, len(counterparties))
			for _, cp := range counterparties {
				rows = append(rows, []string{strconv.FormatInt(cp.ID, 10), cp.Name, cp.IBAN})
			}
			printLine(out, cli.RenderTable([]string{"ID", "Name", "IBAN"}, rows))
			return nil
		},
	})

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a counterparty account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			iban, _ := cmd.Flags().GetString("iban")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cp, err := store.CreateCounterparty(ctx, owner(), args[0], iban)
			if errors.Is(err, common.ErrDuplicateEntry) {
				return fmt.Errorf("counterparty %q already exists", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to create counterparty: %w", err)
			}

			printLine(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created counterparty %q (ID: %d)", cp.Name, cp.ID)))
			return nil
		},
	}
	add.Flags().String("iban", "", "Account number of the counterparty")
	cmd.AddCommand(add)

	return cmd
}
