// Command qtsa runs and exercises an RFC 3161 time-stamp responder.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qtsa",
	Short: "RFC 3161 time-stamp responder",
	Long: `qtsa serves RFC 3161 time-stamp tokens over HTTP.

The time stamped into each token is the integer in the request path, so
POST /1700000000 yields a token dated 2023-11-14T22:13:20Z. A GET on the
same path returns a signtool command line pointing at it.

Examples:
  # Start the responder with the built-in identity
  qtsa serve --listen :8318

  # Time-stamp a file
  qtsa request --url http://localhost:8318/1700000000 --cert -o file.tsr file.txt

  # Verify and inspect the reply
  qtsa verify file.tsr --data file.txt
  qtsa info file.tsr`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(infoCmd)
}
