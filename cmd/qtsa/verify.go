package main

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qtsa/internal/api/service"
	"github.com/remiblancher/qtsa/internal/signer"
	"github.com/remiblancher/qtsa/internal/tsa"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <reply-file>",
	Short: "Verify a time-stamp reply or token",
	Long: `Verify a time-stamp reply or a bare token.

Verifies:
  - The token signature and signed attributes are valid
  - The ESS signing certificate attribute names the signer
  - The signer carries the timeStamping extended key usage
  - The signer certificate chain is trusted (if --ca provided)
  - The data hash matches the token (if --data provided)

Tokens requested without --cert carry no certificates; pass the signer
with --signer, or --builtin for tokens from a responder using the built-in
identity.

Examples:
  # Verify reply and data against a trust anchor
  qtsa verify file.tsr --data file.txt --ca root.crt

  # Token without certificates from the built-in identity
  qtsa verify file.tsr --builtin --json`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var (
	verifyData    string
	verifyCA      string
	verifySigner  string
	verifyBuiltin bool
	verifyJSON    bool
)

func init() {
	verifyCmd.Flags().StringVar(&verifyData, "data", "", "Original data file")
	verifyCmd.Flags().StringVar(&verifyCA, "ca", "", "Trusted CA certificate(s) (PEM)")
	verifyCmd.Flags().StringVar(&verifySigner, "signer", "", "Signer certificate(s) for tokens without certificates (PEM)")
	verifyCmd.Flags().BoolVar(&verifyBuiltin, "builtin", false, "Trust the built-in identity")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Print the result as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	replyData, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read reply file: %w", err)
	}

	config := &tsa.VerifyConfig{}
	if verifyCA != "" {
		if config.Roots, err = loadCertPool(verifyCA); err != nil {
			return fmt.Errorf("failed to load CA: %w", err)
		}
	}
	if verifySigner != "" {
		if config.Certificates, err = loadCertificates(verifySigner); err != nil {
			return fmt.Errorf("failed to load signer: %w", err)
		}
	}
	if verifyBuiltin {
		id, err := signer.Embedded()
		if err != nil {
			return err
		}
		config.Certificates = append(config.Certificates, id.Certificate())
		if config.Roots == nil {
			config.Roots = x509.NewCertPool()
		}
		for _, c := range id.Chain() {
			config.Roots.AddCert(c)
		}
	}
	if verifyData != "" {
		if config.Data, err = os.ReadFile(verifyData); err != nil {
			return fmt.Errorf("failed to read data file: %w", err)
		}
	}

	resp, err := service.Verify(replyData, config)
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	if verifyJSON {
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Timestamp Token Verification:")
		fmt.Fprintf(out, "  Status:     %s\n", formatBool(resp.Valid, "VALID", "INVALID"))
		if resp.Info != nil {
			fmt.Fprintf(out, "  Serial:     %s\n", resp.Info.Serial)
			fmt.Fprintf(out, "  Time:       %s\n", resp.Info.Time)
			fmt.Fprintf(out, "  Policy:     %s\n", resp.Info.Policy)
			if c := resp.Info.TSACertificate; c != nil {
				fmt.Fprintf(out, "  Signer:     %s\n", c.Subject)
				fmt.Fprintf(out, "  Issuer:     %s\n", c.Issuer)
			}
		}
		if len(config.Data) > 0 {
			fmt.Fprintf(out, "  Data Match: %s\n", formatBool(!hashMismatch(resp.Errors), "YES", "NO"))
		}
		for _, e := range resp.Errors {
			fmt.Fprintf(out, "  Error:      %s\n", e)
		}
	}

	if !resp.Valid {
		if hashMismatch(resp.Errors) {
			return fmt.Errorf("%w: data does not match token", tsa.ErrHashMismatch)
		}
		return errors.New("verification failed: " + strings.Join(resp.Errors, "; "))
	}
	return nil
}

func hashMismatch(errs []string) bool {
	for _, e := range errs {
		if strings.Contains(e, "hash mismatch") {
			return true
		}
	}
	return false
}
