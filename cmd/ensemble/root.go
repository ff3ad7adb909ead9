package ensemble

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/spf13/cobra"
)

var (
	// EnsembleCommands represents the ensemble command group
	EnsembleCommands = &cobra.Command{
		Use:   "ensemble",
		Short: "Inspect the clusters of an ensemble",
	}

	// membersCmd prints the view of the cluster of the connected node
	membersCmd = &cobra.Command{
		Use:   "members",
		Short: "Print the members of the cluster of the connected node",
		Args:  cobra.NoArgs,
		RunE:  runMembers,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	EnsembleCommands.AddCommand(membersCmd)
	util.SetupRPCClientFlags(EnsembleCommands)

	membersCmd.Flags().Bool("json", false, "Print the view as JSON")
}

func runMembers(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	c, err := util.NewClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	view, err := c.Members(cmd.Context())
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return util.PrintJSON(view)
	}
	fmt.Printf("cluster=%s, members=%d\n", view.ClusterName, len(view.Members))
	for _, m := range view.Members {
		fmt.Printf("  %-20s %s\n", m.Name, m.Address())
	}
	return nil
}
