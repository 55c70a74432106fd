package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the emacross CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("emacross version %s\n", version)
		fmt.Println("EMA cross bracket order bot for BitMEX")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
