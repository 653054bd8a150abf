package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/output"
	"github.com/gathertown/grapevine/internal/store"
)

var (
	pendingTenant       string
	pendingShowExecuted bool
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Manage triage actions awaiting confirmation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pendingListRun()
	},
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending triage actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pendingListRun()
	},
}

var pendingConfirmCmd = &cobra.Command{
	Use:   "confirm <id>",
	Short: "Confirm a pending action and execute its stored payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pendingConfirmRun(args[0])
	},
}

var pendingCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Discard a pending action without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pendingCancelRun(args[0])
	},
}

func init() {
	pendingCmd.PersistentFlags().StringVar(&pendingTenant, "tenant", "", "Filter by tenant id")
	pendingListCmd.Flags().BoolVar(&pendingShowExecuted, "all", false, "Include executed actions")
	pendingCmd.AddCommand(pendingListCmd)
	pendingCmd.AddCommand(pendingConfirmCmd)
	pendingCmd.AddCommand(pendingCancelCmd)
	rootCmd.AddCommand(pendingCmd)
}

func pendingListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	actions, err := s.ListPendingActions(rootCmd.Context(), store.PendingActionFilter{
		TenantID:        pendingTenant,
		IncludeExecuted: pendingShowExecuted,
	})
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		ui.Info("no pending actions")
		return nil
	}

	table := ui.Table([]string{"ID", "TENANT", "ACTION", "SUMMARY", "STATE"})
	for _, a := range actions {
		state := "pending"
		if a.Executed {
			state = "executed"
		}
		table.Append([]string{
			a.ID,
			a.TenantID,
			output.ActionColor(string(a.Operation.Action)),
			actionSummary(&a.Operation),
			state,
		})
	}
	table.Render()
	return nil
}

func actionSummary(op *models.LinearOperation) string {
	switch op.Action {
	case models.ActionCreate:
		if op.Create != nil {
			return op.Create.Title
		}
	case models.ActionUpdate:
		if op.Update != nil {
			return fmt.Sprintf("%s: %s", op.Update.TargetID, op.Update.TargetTitle)
		}
	case models.ActionSkip:
		if op.Skip != nil {
			return op.Skip.Reason
		}
	}
	return ""
}

func pendingConfirmRun(id string) error {
	engine, err := getEngine()
	if err != nil {
		return err
	}
	result, err := engine.ConfirmAction(rootCmd.Context(), id)
	if err != nil {
		return err
	}
	if !result.Success {
		ui.Error("execution failed: %s", result.Error)
		return nil
	}
	if result.IssueID != "" {
		ui.Success("executed: %s %s", result.IssueID, result.IssueURL)
	} else {
		ui.Success("executed")
	}
	return nil
}

func pendingCancelRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.DeletePendingAction(rootCmd.Context(), id); err != nil {
		return err
	}
	ui.Success("cancelled %s", id)
	return nil
}
