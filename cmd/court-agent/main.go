package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "court-agent",
	Short: "Court edge controller",
	Long:  `Court Agent - drives the court's cameras, ingests their chapters and runs the encode pipeline`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline over the device's pending sessions",
	Run: func(cmd *cobra.Command, args []string) {
		runPendingPipeline()
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Control recording sessions",
}

var recordStartCmd = &cobra.Command{
	Use:   "start [interface]",
	Short: "Start recording on a camera interface (all cameras when omitted)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		iface := ""
		if len(args) == 1 {
			iface = args[0]
		}
		recordStart(iface)
	},
}

var recordStopCmd = &cobra.Command{
	Use:   "stop [interface]",
	Short: "Stop recording and collect the new chapters",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		iface := ""
		if len(args) == 1 {
			iface = args[0]
		}
		recordStop(iface)
	},
}

var recordStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live recording sessions",
	Run: func(cmd *cobra.Command, args []string) {
		recordStatus()
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Pipeline operations",
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline over the device's pending sessions",
	Run: func(cmd *cobra.Command, args []string) {
		runPendingPipeline()
	},
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show a persisted pipeline run's state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pipelineStatus(args[0])
	},
}

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "Discover and list connected cameras",
	Run: func(cmd *cobra.Command, args []string) {
		listCameras()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device health and camera summary",
	Run: func(cmd *cobra.Command, args []string) {
		showStatus()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Court Agent v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/court-agent/agent.yaml)")

	recordCmd.AddCommand(recordStartCmd)
	recordCmd.AddCommand(recordStopCmd)
	recordCmd.AddCommand(recordStatusCmd)
	pipelineCmd.AddCommand(pipelineRunCmd)
	pipelineCmd.AddCommand(pipelineStatusCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(camerasCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
