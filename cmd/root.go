package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ValentinKolb/mavconn/cmd/send"
	"github.com/ValentinKolb/mavconn/cmd/serve"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mavconn",
		Short: "MAVLink TCP transport",
		Long: fmt.Sprintf(`mavconn (v%s)

A MAVLink connection library for Go with a TCP client and an
aggregating TCP hub server, plus this small CLI to run either side
of a link.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mavconn",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mavconn v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(send.SendCmd)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
