package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawcore/internal/agent"
	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/internal/store"
	"github.com/nextlevelbuilder/clawcore/internal/tools"
)

func chatCmd() *cobra.Command {
	var (
		sessionID   string
		model       string
		oneShot     string
		planMode    bool
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive agent chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogging()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			if sessionID == "" {
				sessionID = "cli-" + uuid.NewString()[:8]
			}
			sess, err := st.Load(ctx, sessionID)
			if err == store.ErrNotFound {
				sess = session.NewWithID(sessionID)
				err = nil
			}
			if err != nil {
				return err
			}

			a, err := buildAgent(cfg, sess, runtimeOptions{
				Model:       model,
				PlanMode:    planMode,
				AutoApprove: autoApprove,
				Approval:    promptApproval,
				Callbacks:   chatCallbacks(),
			}, log)
			if err != nil {
				return err
			}

			turn := func(input string) error {
				_, err := a.Run(ctx, input)
				fmt.Println()
				if err != nil {
					return err
				}
				return st.Save(ctx, sess)
			}

			if oneShot != "" {
				return turn(oneShot)
			}

			fmt.Fprintf(os.Stderr, "clawcore chat — session %s, model %s\n", sessionID, firstNonEmpty(model, cfg.Agent.Model))
			fmt.Fprintf(os.Stderr, "Type \"exit\" to quit.\n\n")

			scanner := bufio.NewScanner(os.Stdin)
			for {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				fmt.Fprint(os.Stderr, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if input == "exit" || input == "quit" {
					return nil
				}
				if err := turn(input); err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
				}
			}
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to resume (default: fresh session)")
	cmd.Flags().StringVar(&model, "model", "", "model id override")
	cmd.Flags().StringVarP(&oneShot, "prompt", "p", "", "run a single prompt and exit")
	cmd.Flags().BoolVar(&planMode, "plan", false, "plan mode: read-only tools, edits blocked")
	cmd.Flags().BoolVar(&autoApprove, "yes", false, "auto-approve tool calls")
	return cmd
}

// chatCallbacks streams the turn to the terminal.
func chatCallbacks() agent.Callbacks {
	return agent.Callbacks{
		OnAssistantToken: func(token string) {
			fmt.Print(token)
		},
		OnToolCall: func(call providers.ToolCall) {
			fmt.Fprintf(os.Stderr, "\n%s %s\n", padLabel("tool:"), call.Name)
		},
		OnToolBlocked: func(call providers.ToolCall, reason string) {
			fmt.Fprintf(os.Stderr, "%s %s (%s)\n", padLabel("blocked:"), call.Name, reason)
		},
		OnToolResult: func(call providers.ToolCall, result *tools.Result) {
			if result != nil && !result.Success {
				fmt.Fprintf(os.Stderr, "%s %s failed\n", padLabel("tool:"), call.Name)
			}
		},
		OnCompactionEnd: func(_, status string) {
			fmt.Fprintf(os.Stderr, "%s context compacted (%s)\n", padLabel("info:"), status)
		},
	}
}

const labelWidth = 9

// padLabel right-pads status labels so streamed lines stay aligned even
// with wide runes in tool names.
func padLabel(s string) string {
	if w := runewidth.StringWidth(s); w < labelWidth {
		return s + strings.Repeat(" ", labelWidth-w)
	}
	return s
}

// promptApproval asks the operator to confirm one tool call.
func promptApproval(_ context.Context, req tools.ApprovalRequest) (bool, error) {
	title := fmt.Sprintf("Allow %s?", req.ToolID)
	desc := req.Reason
	if len(req.Patterns) > 0 {
		if desc != "" {
			desc += "\n"
		}
		desc += "Targets: " + strings.Join(req.Patterns, ", ")
	}

	approved := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(desc).
			Affirmative("Allow").
			Negative("Deny").
			Value(&approved),
	))
	if err := form.Run(); err != nil {
		return false, err
	}
	return approved, nil
}
