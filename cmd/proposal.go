package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"modcatalog/catalog"
	"modcatalog/db"
	"modcatalog/proposals"
	"modcatalog/ui"
)

var proposalCmd = &cobra.Command{
	Use:   "proposal",
	Short: "Review edit proposals",
}

var proposalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending edit proposals, oldest first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		a := bootstrap(configDir)
		defer a.close()
		pending, err := a.queue.Pending(context.Background(), limit)
		if err != nil {
			fatal("Failed to list proposals", err)
		}
		for i := range pending {
			printProposal(&pending[i])
		}
	},
}

var proposalApproveCmd = &cobra.Command{
	Use:   "approve [proposal-id]",
	Short: "Apply a pending edit proposal",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		p, err := a.queue.Approve(ctx, a.actor(ctx), mustID(args[0]))
		if err != nil {
			fatal(fmt.Sprintf("Failed to approve (%s)", describeError(err)), err)
		}
		printProposal(p)
	},
}

var proposalDenyCmd = &cobra.Command{
	Use:   "deny [proposal-id]",
	Short: "Reject a pending edit proposal",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		p, err := a.queue.Deny(ctx, a.actor(ctx), mustID(args[0]))
		if err != nil {
			fatal(fmt.Sprintf("Failed to deny (%s)", describeError(err)), err)
		}
		printProposal(p)
	},
}

var proposalBulkCmd = &cobra.Command{
	Use:   "bulk [approve|deny] [proposal-id...]",
	Short: "Approve or deny many proposals; each one succeeds or fails on its own",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		action, err := parseAction(args[0])
		if err != nil {
			fatal("Bad argument", err)
		}
		ids := mustIDs(args[1:])
		plain, _ := cmd.Flags().GetBool("plain")

		a := bootstrap(configDir)
		defer a.close()
		ctx := context.Background()
		approver := a.actor(ctx)

		if plain {
			res := a.queue.Bulk(ctx, approver, ids, action)
			fmt.Println(summarizeBulk(action, res))
			for _, id := range res.Failed {
				fmt.Printf("  proposal %d: %s (%v)\n", id, describeError(res.Failures[id]), res.Failures[id])
			}
			return
		}

		p := tea.NewProgram(newQueueBulkModel(ctx, a.queue, approver, ids, action))
		if _, err := p.Run(); err != nil {
			fatal("Failed to run bulk UI", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(proposalCmd)
	proposalCmd.AddCommand(proposalListCmd, proposalApproveCmd, proposalDenyCmd, proposalBulkCmd)
	proposalListCmd.Flags().Int("limit", 50, "maximum number of proposals (0 for all)")
	proposalBulkCmd.Flags().Bool("plain", false, "print a summary instead of the progress UI")
}

func parseAction(s string) (proposals.Action, error) {
	switch s {
	case "approve":
		return proposals.ActionApprove, nil
	case "deny":
		return proposals.ActionDeny, nil
	}
	return 0, fmt.Errorf("%w: unknown action %q (want approve or deny)", catalog.ErrValidation, s)
}

func printProposal(p *db.EditProposal) {
	fmt.Printf("%-6d %-14s %-6d by=%-6d %s %s\n",
		p.ID, tableNoun(p.TargetTable), p.TargetID, p.SubmitterID, ui.Decision(p.Decision()), string(p.ProposedFields))
}
