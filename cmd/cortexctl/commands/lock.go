package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cortexmesh/core/pkg/types"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Acquire and release entity locks",
}

var (
	lockSessionID  string
	lockEntityID   string
	lockEntityType string
	lockMode       string
	lockTimeout    int64
)

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire a lock on an entity, waiting for contending locks to clear",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Locks.Acquire(context.Background(), types.LockAcquireRequest{
			SessionID:      lockSessionID,
			EntityID:       lockEntityID,
			EntityType:     types.EntityKind(lockEntityType),
			Mode:           types.LockMode(lockMode),
			TimeoutSeconds: lockTimeout,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release [lock-id]",
	Short: "Release a held lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Locks.Release(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var lockListCmd = &cobra.Command{
	Use:   "list [entity-id]",
	Short: "List locks held on an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		locks, err := app.Locks.ListEntity(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(locks)
	},
}

func init() {
	lockAcquireCmd.Flags().StringVar(&lockSessionID, "session", "", "Holding session ID")
	lockAcquireCmd.Flags().StringVar(&lockEntityID, "entity", "", "Entity ID to lock")
	lockAcquireCmd.Flags().StringVar(&lockEntityType, "type", string(types.KindCodeUnit), "Entity kind")
	lockAcquireCmd.Flags().StringVar(&lockMode, "mode", string(types.LockWrite), "Lock mode: read, write, intent")
	lockAcquireCmd.Flags().Int64Var(&lockTimeout, "timeout", 30, "Acquire wait timeout in seconds")
	_ = lockAcquireCmd.MarkFlagRequired("session")
	_ = lockAcquireCmd.MarkFlagRequired("entity")

	lockCmd.AddCommand(lockAcquireCmd, lockReleaseCmd, lockListCmd)
}
