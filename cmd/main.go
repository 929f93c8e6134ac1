package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/exchron/exchron-engine/cmd/cli"
	"github.com/exchron/exchron-engine/pkg/logger"
)

var logMode string

var rootCmd = &cobra.Command{
	Use:   "exchron-engine",
	Short: "Exchron training engine",
	Long:  `Training sessions, model evaluation and prediction behind the Exchron dashboard`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch logMode {
		case "debug", "pretty", "info", "prod", "test":
			logger.InitWithMode(logger.LogMode(logMode))
		default:
			logger.InitWithMode(logger.LogModePretty)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cli.RunServer()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the training session server",
	Run: func(cmd *cobra.Command, args []string) {
		cli.RunServer()
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train one model from a dataset file and print the metrics",
	Run: func(cmd *cobra.Command, args []string) {
		datasetPath, _ := cmd.Flags().GetString("dataset")
		configPath, _ := cmd.Flags().GetString("config")
		target, _ := cmd.Flags().GetString("target")
		cli.RunTrain(datasetPath, configPath, target)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(trainCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logMode, "log", "pretty", "Log mode: debug, pretty, info, prod, test")

	trainCmd.Flags().String("dataset", "", "Path to the dataset JSON file")
	trainCmd.Flags().String("config", "", "Path to the training config JSON file")
	trainCmd.Flags().String("target", "", "Target column, overriding the config file")
	if err := trainCmd.MarkFlagRequired("dataset"); err != nil {
		log.Error().Err(err).Msg("Failed to mark dataset flag as required")
	}
}
