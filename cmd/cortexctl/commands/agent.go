package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexmesh/core/pkg/types"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Register and inspect coordinator agents",
}

var (
	agentID       string
	agentRole     string
	agentCaps     string
	messageTo     string
	messageFrom   string
	messageType   string
	messageBody   string
)

var agentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an agent with the coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		var caps []string
		if agentCaps != "" {
			caps = strings.Split(agentCaps, ",")
		}
		ctx := app.Coordinator.Register(agentID, types.AgentRole(agentRole), caps)
		return printJSON(ctx)
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		return printJSON(app.Coordinator.List())
	},
}

var agentSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a message to another agent's inbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Coordinator.SendMessage(cmd.Context(), messageFrom, messageTo, messageType, []byte(messageBody)); err != nil {
			return err
		}
		return printJSON(map[string]bool{"sent": true})
	},
}

var agentInboxCmd = &cobra.Command{
	Use:   "inbox [agent-id]",
	Short: "Drain and print an agent's pending messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		return printJSON(app.Coordinator.GetMessages(args[0]))
	},
}

func init() {
	agentRegisterCmd.Flags().StringVar(&agentID, "id", "", "Agent ID")
	agentRegisterCmd.Flags().StringVar(&agentRole, "role", string(types.RoleWorker), "Agent role: worker, orchestrator, specialist")
	agentRegisterCmd.Flags().StringVar(&agentCaps, "capabilities", "", "Comma-separated capability tags")
	_ = agentRegisterCmd.MarkFlagRequired("id")

	agentSendCmd.Flags().StringVar(&messageFrom, "from", "", "Sending agent ID")
	agentSendCmd.Flags().StringVar(&messageTo, "to", "", "Recipient agent ID")
	agentSendCmd.Flags().StringVar(&messageType, "type", "", "Message type tag")
	agentSendCmd.Flags().StringVar(&messageBody, "body", "", "Message payload")
	_ = agentSendCmd.MarkFlagRequired("to")

	agentCmd.AddCommand(agentRegisterCmd, agentListCmd, agentSendCmd, agentInboxCmd)
}
