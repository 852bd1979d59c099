package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/dyadgo/pkg/hashkey"
)

var keyofCmd = &cobra.Command{
	Use:   "keyof PATH",
	Short: "Print the topic key dyadgo would compute for a user path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetUint32("depth")
		bins, _ := cmd.Flags().GetUint32("bins")

		key, err := hashkey.Key(args[0], depth, bins)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

func init() {
	keyofCmd.Flags().Uint32("depth", 3, "Topic tree depth")
	keyofCmd.Flags().Uint32("bins", 1024, "Fan-out per level")
}
