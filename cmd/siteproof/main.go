package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configFile string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "siteproof",
	Short: "Measure how reliably a website can be cited as a source",
	Long: `siteproof crawls a website, indexes its content, and scores how well
the site answers the questions a reader would actually ask about it,
under realistic retrieval budgets. It also estimates the score lift of
proposed content fixes before anyone edits a page.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the siteproof version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("siteproof version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default: $SITEPROOF_CONFIG or ~/.config/siteproof/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(siteCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(observedCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
