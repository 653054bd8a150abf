package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/output"
)

var (
	tenantThreshold     int
	tenantRacing        bool
	tenantTriageChannel string
	tenantTriageTeam    string
	tenantTriageMode    string
	tenantKnowledge     []string
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage workspace configurations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tenantListRun()
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tenantListRun()
	},
}

var tenantAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tenantAddRun(args[0])
	},
}

var tenantSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Update a workspace's settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tenantSetRun(cmd, args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{tenantAddCmd, tenantSetCmd} {
		c.Flags().IntVar(&tenantThreshold, "threshold", models.DefaultConfidenceThreshold, "Confidence threshold for ambient answers (0-100)")
		c.Flags().BoolVar(&tenantRacing, "racing", true, "Race a fast preliminary answer against the thorough one")
		c.Flags().StringVar(&tenantTriageChannel, "triage-channel", "", "Channel whose messages enter the triage workflow")
		c.Flags().StringVar(&tenantTriageTeam, "triage-team", "", "Tracker team id for triage-created issues")
		c.Flags().StringVar(&tenantTriageMode, "triage-mode", string(models.ModeNonProactive), "Triage mode: proactive or non_proactive")
		c.Flags().StringSliceVar(&tenantKnowledge, "knowledge", nil, "Knowledge source names surfaced to the answer prompts")
	}
	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantAddCmd)
	tenantCmd.AddCommand(tenantSetCmd)
	rootCmd.AddCommand(tenantCmd)
}

func tenantListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	tenants, err := s.ListTenants(rootCmd.Context())
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		ui.Info("no tenants configured; add one with 'grapevine tenant add <name>'")
		return nil
	}

	table := ui.Table([]string{"ID", "NAME", "THRESHOLD", "RACING", "TRIAGE MODE", "TRIAGE CHANNEL"})
	for _, t := range tenants {
		racing := "off"
		if t.RacingEnabled {
			racing = "on"
		}
		table.Append([]string{
			t.ID,
			t.Name,
			output.ConfidenceColor(t.ConfidenceThreshold),
			racing,
			string(t.TriageMode),
			t.TriageChannelID,
		})
	}
	table.Render()
	return nil
}

func tenantAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	mode := models.TriageMode(tenantTriageMode)
	if mode != models.ModeProactive && mode != models.ModeNonProactive {
		return fmt.Errorf("invalid triage mode: %q", tenantTriageMode)
	}

	tenant := &models.Tenant{
		Name:                name,
		ConfidenceThreshold: tenantThreshold,
		RacingEnabled:       tenantRacing,
		TriageChannelID:     tenantTriageChannel,
		TriageTeamID:        tenantTriageTeam,
		TriageMode:          mode,
		KnowledgeSources:    tenantKnowledge,
	}
	if err := s.CreateTenant(rootCmd.Context(), tenant); err != nil {
		return err
	}
	ui.Success("created tenant %s (%s)", tenant.Name, tenant.ID)
	return nil
}

func tenantSetRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := rootCmd.Context()
	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return err
	}

	// Only explicitly passed flags overwrite stored settings.
	if cmd.Flags().Changed("threshold") {
		tenant.ConfidenceThreshold = tenantThreshold
	}
	if cmd.Flags().Changed("racing") {
		tenant.RacingEnabled = tenantRacing
	}
	if cmd.Flags().Changed("triage-channel") {
		tenant.TriageChannelID = tenantTriageChannel
	}
	if cmd.Flags().Changed("triage-team") {
		tenant.TriageTeamID = tenantTriageTeam
	}
	if cmd.Flags().Changed("triage-mode") {
		mode := models.TriageMode(tenantTriageMode)
		if mode != models.ModeProactive && mode != models.ModeNonProactive {
			return fmt.Errorf("invalid triage mode: %q", tenantTriageMode)
		}
		tenant.TriageMode = mode
	}
	if cmd.Flags().Changed("knowledge") {
		tenant.KnowledgeSources = tenantKnowledge
	}

	if err := s.UpdateTenant(ctx, tenant); err != nil {
		return err
	}
	ui.Success("updated tenant %s", tenant.ID)
	ui.VerboseLog("knowledge sources: %s", strings.Join(tenant.KnowledgeSources, ", "))
	return nil
}
