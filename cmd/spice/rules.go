package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/statement-spice/internal/cli"
	"github.com/Veraticus/statement-spice/internal/model"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage enhancement rules",
		Long: `Enhancement rules map description patterns to a category and/or a
counterparty. EXACT rules beat PREFIX rules, which beat INFIX rules; within a
tier the oldest rule wins.`,
	}

	cmd.AddCommand(addRuleCmd())
	cmd.AddCommand(listRulesCmd())
	cmd.AddCommand(deleteRuleCmd())
	cmd.AddCommand(cleanupRulesCmd())

	return cmd
}

func addRuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <pattern>",
		Short: "Add a rule",
		Example: `  spice rules add "albert heijn" --match-type prefix --category 2
  spice rules add netflix --match-type infix --category 4 --min 5 --max 25`,
		Args: cobra.ExactArgs(1),
		RunE: runAddRule,
	}

	cmd.Flags().String("match-type", "infix", "How the pattern is compared: exact, prefix or infix")
	cmd.Flags().Int64("category", 0, "Category ID to assign")
	cmd.Flags().Int64("counterparty", 0, "Counterparty account ID to assign")
	cmd.Flags().String("min", "", "Minimum absolute amount the rule applies to")
	cmd.Flags().String("max", "", "Maximum absolute amount the rule applies to")
	cmd.Flags().String("start", "", "First date the rule applies to (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "Last date the rule applies to (YYYY-MM-DD)")
	cmd.Flags().String("source", string(model.RuleSourceManual), "Rule source: manual, auto or ai")

	return cmd
}

func runAddRule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	matchType, _ := flags.GetString("match-type")
	source, _ := flags.GetString("source")
	rule := &model.EnhancementRule{
		OwnerID:   owner(),
		Pattern:   args[0],
		MatchType: model.MatchType(strings.ToUpper(matchType)),
		Source:    model.RuleSource(strings.ToUpper(source)),
	}

	if id, _ := flags.GetInt64("category"); id > 0 {
		rule.CategoryID = &id
	}
	if id, _ := flags.GetInt64("counterparty"); id > 0 {
		rule.CounterpartyAccountID = &id
	}

	var err error
	if rule.MinAmount, err = parseAmountFlag(cmd, "min"); err != nil {
		return err
	}
	if rule.MaxAmount, err = parseAmountFlag(cmd, "max"); err != nil {
		return err
	}
	if rule.StartDate, err = parseDateFlag(cmd, "start"); err != nil {
		return err
	}
	if rule.EndDate, err = parseDateFlag(cmd, "end"); err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.CreateRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	printLine(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created %s rule %q (ID: %d)", rule.MatchType, rule.Pattern, rule.ID)))
	return nil
}

func parseAmountFlag(cmd *cobra.Command, name string) (*decimal.Decimal, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s amount %q: %w", name, raw, err)
	}
	return &d, nil
}

func parseDateFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(model.DateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s date %q: expected YYYY-MM-DD", name, raw)
	}
	return &t, nil
}

func listRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules with how many transactions they match",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			showPlaceholders, _ := cmd.Flags().GetBool("placeholders")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var rules []model.EnhancementRule
			if showPlaceholders {
				rules, err = store.ListRules(ctx, owner())
			} else {
				rules, err = store.FindRulesForOwner(ctx, owner())
			}
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			rows := make([][]string, 0, len(rules))
			for i := range rules {
				r := &rules[i]
				usage, err := store.RuleUsageCount(ctx, r.ID)
				if err != nil {
					return fmt.Errorf("failed to count usage of rule %d: %w", r.ID, err)
				}
				rows = append(rows, []string{
					strconv.FormatInt(r.ID, 10),
					r.Pattern,
					string(r.MatchType),
					formatOptionalID(r.CategoryID),
					formatOptionalID(r.CounterpartyAccountID),
					formatRange(r),
					string(r.Source),
					strconv.Itoa(usage),
				})
			}

			if len(rows) == 0 {
				printLine(out, cli.FormatInfo("No rules found. Use 'spice rules add' to create one."))
				return nil
			}
			printLine(out, cli.RenderTable(
				[]string{"ID", "Pattern", "Match", "Category", "Counterparty", "Conditions", "Source", "Uses"}, rows))
			return nil
		},
	}

	cmd.Flags().Bool("placeholders", false, "Include placeholder rules that have no outcome yet")

	return cmd
}

func formatOptionalID(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func formatRange(r *model.EnhancementRule) string {
	var parts []string
	if r.MinAmount != nil {
		parts = append(parts, ">="+r.MinAmount.String())
	}
	if r.MaxAmount != nil {
		parts = append(parts, "<="+r.MaxAmount.String())
	}
	if r.StartDate != nil {
		parts = append(parts, "from "+r.StartDate.Format(model.DateLayout))
	}
	if r.EndDate != nil {
		parts = append(parts, "until "+r.EndDate.Format(model.DateLayout))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func deleteRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.DeleteRule(ctx, owner(), id); err != nil {
				return fmt.Errorf("failed to delete rule: %w", err)
			}

			printLine(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Deleted rule %d", id)))
			return nil
		},
	}
}

func cleanupRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete rules that no transaction matches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			placeholdersOnly, _ := cmd.Flags().GetBool("placeholders-only")
			yes, _ := cmd.Flags().GetBool("yes")

			if !yes {
				question := "Delete all unused rules?"
				if placeholdersOnly {
					question = "Delete unused placeholder rules?"
				}
				ok, err := cli.Confirm(ctx, cli.NewLineReader(cmd.InOrStdin()), out, question)
				if err != nil {
					return err
				}
				if !ok {
					printLine(out, cli.FormatInfo("Nothing deleted."))
					return nil
				}
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			deleted, err := store.CleanupUnusedRules(ctx, owner(), placeholdersOnly)
			if err != nil {
				return fmt.Errorf("failed to clean up rules: %w", err)
			}

			printLine(out, cli.FormatSuccess(fmt.Sprintf("Deleted %d unused rules", deleted)))
			return nil
		},
	}

	cmd.Flags().Bool("placeholders-only", false, "Only delete placeholder rules")
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
