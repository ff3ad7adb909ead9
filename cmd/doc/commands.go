package doc

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [bucket] [key]",
		Short: "Reads a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := rpcClient.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(string(doc))
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [bucket] [key] [document]",
		Short: "Stores a JSON object as document, replacing any previous one",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := writer(cmd).Put(cmd.Context(), args[0], args[1], json.RawMessage(args[2]))
			if err != nil {
				return err
			}
			fmt.Println(string(doc))
			return nil
		},
	}
	mergeCmd = &cobra.Command{
		Use:   "merge [bucket] [key] [patch]",
		Short: "Merges the top-level fields of a JSON object into a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := writer(cmd).Merge(cmd.Context(), args[0], args[1], json.RawMessage(args[2]))
			if err != nil {
				return err
			}
			fmt.Println(string(doc))
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [bucket] [key]",
		Short: "Deletes a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writer(cmd).Remove(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("removed successfully")
			return nil
		},
	}
	bulkGetCmd = &cobra.Command{
		Use:   "bulk-get [bucket] [key...]",
		Short: "Reads several documents, missing ones are left out",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := rpcClient.BulkGet(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			return util.PrintJSON(found)
		},
	}
	bulkRemoveCmd = &cobra.Command{
		Use:   "bulk-remove [bucket] [key...]",
		Short: "Deletes several documents and prints the keys that existed",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := writer(cmd).BulkRemove(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			return util.PrintJSON(removed)
		},
	}
	rangeCmd = &cobra.Command{
		Use:   "range [bucket]",
		Short: "Lists the documents of a key range in key order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := rpcClient.Range(cmd.Context(), args[0], from, to, limit)
			if err != nil {
				return err
			}
			return util.PrintJSON(entries)
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [bucket] [field] [value]",
		Short: "Lists the documents whose top-level field equals a JSON value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := rpcClient.Query(cmd.Context(), args[0], args[1], json.RawMessage(args[2]), limit)
			if err != nil {
				return err
			}
			return util.PrintJSON(entries)
		},
	}
	mapCmd = &cobra.Command{
		Use:   "map [bucket] [mapper]",
		Short: "Applies a mapper (identity, keys, field:<name>) to every document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := rpcClient.Map(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return util.PrintJSON(entries)
		},
	}
	reduceCmd = &cobra.Command{
		Use:   "reduce [bucket] [reducer]",
		Short: "Reduces the mapped documents (count, sum:<field>, min:<field>, max:<field>, stats:<field>)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mapper, _ := cmd.Flags().GetString("mapper")
			result, err := rpcClient.Reduce(cmd.Context(), args[0], mapper, args[1])
			if err != nil {
				return err
			}
			fmt.Println(string(result))
			return nil
		},
	}
	bucketsCmd = &cobra.Command{
		Use:   "buckets",
		Short: "Lists the non-empty buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			buckets, err := rpcClient.Buckets(cmd.Context())
			if err != nil {
				return err
			}
			for _, b := range buckets {
				fmt.Println(b)
			}
			return nil
		},
	}
	removeBucketCmd = &cobra.Command{
		Use:   "remove-bucket [bucket]",
		Short: "Drops a bucket in every cluster of the ensemble",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcClient.RemoveBucket(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("bucket removed successfully")
			return nil
		},
	}
	exportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Writes a backup of all documents of the cluster to a file (stdout if omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backup, documents, err := rpcClient.Export(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Print(backup)
				return nil
			}
			if err := os.WriteFile(args[0], []byte(backup), 0o644); err != nil {
				return fmt.Errorf("failed to write backup: %w", err)
			}
			fmt.Printf("exported %d documents to %s\n", documents, args[0])
			return nil
		},
	}
	importCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Stores all documents of a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backup, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read backup: %w", err)
			}
			imported, err := rpcClient.Import(cmd.Context(), string(backup))
			if err != nil {
				return err
			}
			fmt.Printf("imported %d documents\n", imported)
			return nil
		},
	}
)

func init() {
	rangeCmd.Flags().String("from", "", "First key of the range")
	rangeCmd.Flags().String("to", "", "Key after the range (empty is unbounded)")
	rangeCmd.Flags().Int("limit", 0, "Maximum number of documents (0 is unlimited)")
	queryCmd.Flags().Int("limit", 0, "Maximum number of documents (0 is unlimited)")
	reduceCmd.Flags().String("mapper", "", "Mapper applied before reducing (identity, keys, field:<name>)")
	for _, c := range []*cobra.Command{putCmd, mergeCmd, removeCmd, bulkRemoveCmd} {
		c.Flags().String("owner", "", "Owner ID of a held document lock (see lock acquire)")
	}
}

// writer returns the client for write commands, acting as the lock owner given by --owner
func writer(cmd *cobra.Command) *client.Client {
	if owner, _ := cmd.Flags().GetString("owner"); owner != "" {
		return rpcClient.AsOwner(owner)
	}
	return rpcClient
}
