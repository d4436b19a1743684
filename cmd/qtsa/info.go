package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qtsa/internal/api/service"
)

var infoCmd = &cobra.Command{
	Use:   "info <reply-file>",
	Short: "Display time-stamp reply or token information",
	Long: `Display the fields of a time-stamp reply or bare token.

Shows status, serial number, generation time, policy, imprint and nonce.
Nothing is verified; use qtsa verify for that.

Examples:
  qtsa info file.tsr
  qtsa info file.tsr --json`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var infoJSON bool

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print the fields as JSON")
}

func runInfo(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read reply file: %w", err)
	}

	info, err := service.Info(data)
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	if infoJSON {
		return writeJSON(cmd.OutOrStdout(), info)
	}

	out := cmd.OutOrStdout()
	if info.Status != "" {
		fmt.Fprintln(out, "Timestamp Response:")
		fmt.Fprintf(out, "  Status:       %s\n\n", info.Status)
	}
	fmt.Fprintln(out, "Timestamp Token:")
	fmt.Fprintf(out, "  Serial:       %s\n", info.Serial)
	fmt.Fprintf(out, "  Gen Time:     %s\n", info.Time)
	fmt.Fprintf(out, "  Policy:       %s\n", info.Policy)
	fmt.Fprintf(out, "  Hash Alg:     %s\n", info.HashAlgorithm)
	fmt.Fprintf(out, "  Hash:         %s\n", info.Hash)
	fmt.Fprintf(out, "  Ordering:     %v\n", info.Ordering)
	if info.Nonce != "" {
		fmt.Fprintf(out, "  Nonce:        %s\n", info.Nonce)
	}
	fmt.Fprintf(out, "  Certificates: %d\n", info.Certificates)
	return nil
}
