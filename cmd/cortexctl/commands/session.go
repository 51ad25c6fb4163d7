package commands

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexmesh/core/pkg/types"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage agent sessions",
}

var (
	sessionAgentID    string
	sessionScopePaths string
	sessionTTL        int64
)

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new isolated session",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		var scopes []string
		if sessionScopePaths != "" {
			scopes = strings.Split(sessionScopePaths, ",")
		}

		sess, err := app.Sessions.Create(context.Background(), types.SessionCreateRequest{
			AgentID:    sessionAgentID,
			ScopePaths: scopes,
			TTLSeconds: sessionTTL,
		})
		if err != nil {
			return err
		}
		return printJSON(sess)
	},
}

var sessionAbandonCmd = &cobra.Command{
	Use:   "abandon [session-id]",
	Short: "Abandon a session's change journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Sessions.Abandon(context.Background(), types.SessionAbandonRequest{SessionID: args[0]})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var (
	mergeStrategy string
	mergeVerify   bool
)

var sessionMergeCmd = &cobra.Command{
	Use:   "merge [session-id]",
	Short: "Merge a session's changes into main",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Sessions.Merge(context.Background(), types.MergeRequest{
			SessionID:       args[0],
			Strategy:        types.MergeStrategy(mergeStrategy),
			VerifySemantics: mergeVerify,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionAgentID, "agent", "", "Owning agent ID")
	sessionCreateCmd.Flags().StringVar(&sessionScopePaths, "scope", "", "Comma-separated glob scope paths")
	sessionCreateCmd.Flags().Int64Var(&sessionTTL, "ttl", 0, "Session TTL in seconds (0 = default)")
	_ = sessionCreateCmd.MarkFlagRequired("agent")

	sessionMergeCmd.Flags().StringVar(&mergeStrategy, "strategy", string(types.StrategyAutoMerge), "Merge strategy: auto, manual, prefer_session, prefer_main, three_way")
	sessionMergeCmd.Flags().BoolVar(&mergeVerify, "verify", true, "Verify the merged dependency graph stays acyclic")

	sessionCmd.AddCommand(sessionCreateCmd, sessionAbandonCmd, sessionMergeCmd)
}
