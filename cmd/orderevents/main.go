package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	console bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orderevents",
		Short: "Order event pipeline: publish order lifecycle events and turn them into notifications",
		Long: `orderevents runs the notification service that consumes order events from the
broker, sends customer notifications and streams live updates over websockets.
It can also publish single order events for testing. Configuration is read
from the environment (RABBITMQ_URL, BROKER_KIND, PORT, ...).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&console, "console", false, "Human readable log output instead of JSON")

	rootCmd.AddCommand(
		newServeCmd(),
		newPublishCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("orderevents version %s\n", version)
			fmt.Printf("  Go:       %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
