package doc

import (
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.Client

	// DocCommands represents the document command group
	DocCommands = &cobra.Command{
		Use:                "doc",
		Short:              "Perform document operations",
		PersistentPreRunE:  setupDocClient,
		PersistentPostRunE: closeDocClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the doc command
	util.SetupRPCClientFlags(DocCommands)

	// Add subcommands
	DocCommands.AddCommand(getCmd)
	DocCommands.AddCommand(putCmd)
	DocCommands.AddCommand(mergeCmd)
	DocCommands.AddCommand(removeCmd)
	DocCommands.AddCommand(bulkGetCmd)
	DocCommands.AddCommand(bulkRemoveCmd)
	DocCommands.AddCommand(rangeCmd)
	DocCommands.AddCommand(queryCmd)
	DocCommands.AddCommand(mapCmd)
	DocCommands.AddCommand(reduceCmd)
	DocCommands.AddCommand(bucketsCmd)
	DocCommands.AddCommand(removeBucketCmd)
	DocCommands.AddCommand(exportCmd)
	DocCommands.AddCommand(importCmd)
	DocCommands.AddCommand(perfTestCmd)
}

// setupDocClient connects the RPC client
func setupDocClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcClient, err = util.NewClient(cmd.Context())
	return err
}

func closeDocClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}
