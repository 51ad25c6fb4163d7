package commands

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexmesh/core/pkg/types"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store and retrieve memory pool entries",
}

var (
	memKey         string
	memVectorCSV   string
	memOriginAgent string
	memPolicy      string
	memRequester   string
)

func parseVector(csv string) ([]float32, error) {
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}

var memoryStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Store a memory entry under a shared, private, or hierarchical policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		vec, err := parseVector(memVectorCSV)
		if err != nil {
			return err
		}

		entry := &types.MemoryEntry{
			Key:         memKey,
			Vector:      vec,
			Dim:         len(vec),
			OriginAgent: memOriginAgent,
			Policy:      types.AccessPolicy(memPolicy),
		}
		if err := app.Memory.Store(context.Background(), entry); err != nil {
			return err
		}
		return printJSON(entry)
	},
}

var memoryRetrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Retrieve a memory entry, subject to its access policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		entry, err := app.Memory.Retrieve(context.Background(), types.AccessPolicy(memPolicy), memOriginAgent, memKey, memRequester)
		if err != nil {
			return err
		}
		return printJSON(entry)
	},
}

func init() {
	for _, c := range []*cobra.Command{memoryStoreCmd, memoryRetrieveCmd} {
		c.Flags().StringVar(&memKey, "key", "", "Memory entry key")
		c.Flags().StringVar(&memOriginAgent, "origin", "", "Originating agent ID")
		c.Flags().StringVar(&memPolicy, "policy", string(types.PolicyShared), "Access policy: shared, private, hierarchical")
		_ = c.MarkFlagRequired("key")
		_ = c.MarkFlagRequired("origin")
	}
	memoryStoreCmd.Flags().StringVar(&memVectorCSV, "vector", "", "Comma-separated float32 vector components")

	memoryRetrieveCmd.Flags().StringVar(&memRequester, "requester", "", "Agent ID requesting the read")
	_ = memoryRetrieveCmd.MarkFlagRequired("requester")

	memoryCmd.AddCommand(memoryStoreCmd, memoryRetrieveCmd)
}
