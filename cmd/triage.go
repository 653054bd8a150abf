package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/output"
	"github.com/gathertown/grapevine/internal/triage"
)

var (
	triageMode string
	triageRef  string
)

// transcriptFile is the YAML shape accepted by `grapevine triage`.
type transcriptFile struct {
	Tenant   string `yaml:"tenant"`
	Channel  string `yaml:"channel"`
	Thread   string `yaml:"thread"`
	Ref      string `yaml:"ref"`
	Messages []struct {
		Role string `yaml:"role"`
		Text string `yaml:"text"`
	} `yaml:"messages"`
}

var triageCmd = &cobra.Command{
	Use:   "triage <transcript.yaml>",
	Short: "Run the triage workflow over a conversation transcript",
	Long: `Run the triage workflow over a YAML transcript file:

  tenant: <tenant id>
  channel: C0123456
  thread: "1700000000.000100"
  messages:
    - role: user
      text: the export button crashes the app

The decided operation is printed; in proactive mode it is also executed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return triageRun(args[0])
	},
}

func init() {
	triageCmd.Flags().StringVar(&triageMode, "mode", "", "Override the tenant triage mode (proactive or non_proactive)")
	triageCmd.Flags().StringVar(&triageRef, "ref", "", "Explicitly referenced issue id")
	rootCmd.AddCommand(triageCmd)
}

func triageRun(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	var tf transcriptFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parse transcript: %w", err)
	}
	if tf.Tenant == "" {
		return fmt.Errorf("transcript is missing a tenant id")
	}
	if len(tf.Messages) == 0 {
		return fmt.Errorf("transcript has no messages")
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	engine, err := getEngine()
	if err != nil {
		return err
	}

	ctx := rootCmd.Context()
	tenant, err := s.GetTenant(ctx, tf.Tenant)
	if err != nil {
		return err
	}

	mode := tenant.TriageMode
	if triageMode != "" {
		mode = models.TriageMode(triageMode)
	}
	if mode != models.ModeProactive && mode != models.ModeNonProactive {
		return fmt.Errorf("invalid triage mode: %q", mode)
	}

	conv := triage.Conversation{
		TenantID:    tenant.ID,
		ChannelID:   tf.Channel,
		ThreadTS:    tf.Thread,
		ExplicitRef: tf.Ref,
	}
	if triageRef != "" {
		conv.ExplicitRef = triageRef
	}
	for _, m := range tf.Messages {
		role := models.RoleUser
		if m.Role == "assistant" {
			role = models.RoleAssistant
		}
		conv.Messages = append(conv.Messages, models.Message{Role: role, Content: m.Text})
	}

	op, result, err := engine.Run(ctx, conv, mode)
	if err != nil {
		return err
	}

	ui.Info("decision: %s (confidence %s)",
		output.ActionColor(string(op.Action)), output.ConfidenceColor(op.Confidence))
	if op.Reasoning != "" {
		ui.VerboseLog("reasoning: %s", op.Reasoning)
	}

	switch op.Action {
	case models.ActionCreate:
		ui.Info("title: %s", op.Create.Title)
	case models.ActionUpdate:
		ui.Info("target: %s (%s)", op.Update.TargetID, op.Update.TargetTitle)
		if op.Update.Delta == "" {
			ui.Info("nothing new to add")
		}
	case models.ActionSkip:
		ui.Info("reason: %s", op.Skip.Reason)
	}

	switch {
	case result == nil:
		ui.Info("pending confirmation; see 'grapevine pending list'")
	case result.Success:
		if result.IssueID != "" {
			ui.Success("executed: %s %s", result.IssueID, result.IssueURL)
		} else {
			ui.Success("executed")
		}
	default:
		ui.Error("execution failed: %s", result.Error)
	}
	return nil
}
