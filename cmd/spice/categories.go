package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/statement-spice/internal/cli"
	"github.com/Veraticus/statement-spice/internal/common"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage categories",
		Long:  `List and add the categories rules and the AI categorizer can assign.`,
	}

	cmd.AddCommand(listCategoriesCmd())
	cmd.AddCommand(addCategoryCmd())

	return cmd
}

func listCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			categories, err := store.GetCategories(ctx, owner())
			if err != nil {
				return fmt.Errorf("failed to get categories: %w", err)
			}

			if len(categories) == 0 {
				printLine(out, cli.FormatInfo("No categories found. Use 'spice categories add' to create one."))
				return nil
			}

			rows := make([][]string, 0, len(categories))
			for _, cat := range categories {
				desc := cat.Description
				if desc == "" {
					desc = cli.SubtleStyle.Render("(no description)")
				}
				rows = append(rows, []string{strconv.FormatInt(cat.ID, 10), cat.Name, desc})
			}
			printLine(out, cli.RenderTable([]string{"ID", "Name", "Description"}, rows))
			return nil
		},
	}
}

func addCategoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a new category",
		Long: `Add a category. The description is shown to the AI categorizer, so a
short explanation of what belongs in the category improves its answers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			description, _ := cmd.Flags().GetString("description")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cat, err := store.CreateCategory(ctx, owner(), args[0], description)
			if errors.Is(err, common.ErrDuplicateEntry) {
				return fmt.Errorf("category %q already exists", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to create category: %w", err)
			}

			printLine(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created category %q (ID: %d)", cat.Name, cat.ID)))
			return nil
		},
	}

	cmd.Flags().StringP("description", "d", "", "What belongs in this category")

	return cmd
}
