package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexmesh/core/internal/search"
)

var (
	searchAgent string
	searchText  string
	searchMode  string
	searchK     int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a federated or scoped code-knowledge search",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		app.Search.RegisterEngine(searchAgent, search.NewLocalEngine(app.Store))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		go app.Search.Run(ctx)

		out := app.Search.Search(ctx, search.Request{
			RequestingAgent: searchAgent,
			QueryText:       searchText,
			Mode:            search.Mode(searchMode),
			K:               searchK,
			Priority:        search.LevelNormal,
		})

		select {
		case resp := <-out:
			if resp.Err != nil {
				return resp.Err
			}
			return printJSON(resp)
		case <-ctx.Done():
			return fmt.Errorf("search timed out")
		}
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchAgent, "agent", "", "Requesting agent ID")
	searchCmd.Flags().StringVar(&searchText, "query", "", "Keyword query text")
	searchCmd.Flags().StringVar(&searchMode, "mode", string(search.ModeScoped), "Search mode: scoped, cross_namespace, federated, broadcast")
	searchCmd.Flags().IntVar(&searchK, "k", 10, "Number of results to return")
	_ = searchCmd.MarkFlagRequired("agent")
	_ = searchCmd.MarkFlagRequired("query")
}
