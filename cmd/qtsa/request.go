package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"mime"
	"net/http"
	"os"
	"time"

	"github.com/digitorus/timestamp"
	"github.com/spf13/cobra"

	"github.com/remiblancher/qtsa/internal/api/handler"
	"github.com/remiblancher/qtsa/internal/tsa"
)

// maxReplySize bounds the reply body read from the responder.
const maxReplySize = 1 << 20

var requestCmd = &cobra.Command{
	Use:   "request <file>",
	Short: "Time-stamp a file with a remote responder",
	Long: `Hash a file, send an RFC 3161 time-stamp query to a responder and save the reply.

The reply is checked before it is written: it must be granted, its imprint
must match the file and its nonce must match the query.

Examples:
  # SHA-256 imprint, ask for the signer certificate and chain
  qtsa request --url http://localhost:8318/1700000000 --cert -o file.tsr file.txt

  # SHA-1 imprint (signtool /td sha1), no nonce
  qtsa request --url http://localhost:8318/1700000000 --hash sha1 --nonce=false -o file.tsr file.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runRequest,
}

var (
	requestURL     string
	requestHash    string
	requestCert    bool
	requestNonce   bool
	requestOutput  string
	requestTimeout time.Duration
)

func init() {
	requestCmd.Flags().StringVar(&requestURL, "url", "", "Responder URL including the time path, e.g. http://host:8318/1700000000 (required)")
	requestCmd.Flags().StringVar(&requestHash, "hash", "sha256", "Imprint hash algorithm (md5, sha1, sha256, sha384, sha512)")
	requestCmd.Flags().BoolVar(&requestCert, "cert", false, "Ask for the signer certificate and chain in the token")
	requestCmd.Flags().BoolVar(&requestNonce, "nonce", true, "Include a random nonce")
	requestCmd.Flags().StringVarP(&requestOutput, "out", "o", "", "Reply output file (required)")
	requestCmd.Flags().DurationVar(&requestTimeout, "timeout", 30*time.Second, "HTTP request timeout")
	_ = requestCmd.MarkFlagRequired("url")
	_ = requestCmd.MarkFlagRequired("out")
}

func runRequest(cmd *cobra.Command, args []string) error {
	hashAlg, err := tsa.ParseHashName(requestHash)
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}
	defer f.Close()

	var nonce *big.Int
	if requestNonce {
		if nonce, err = rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64)); err != nil {
			return fmt.Errorf("failed to generate nonce: %w", err)
		}
	}

	query, err := timestamp.CreateRequest(f, &timestamp.RequestOptions{
		Hash:         hashAlg,
		Certificates: requestCert,
		Nonce:        nonce,
	})
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	reply, err := postQuery(ctx, http.DefaultClient, requestURL, query)
	if err != nil {
		return err
	}

	ts, err := timestamp.ParseResponse(reply)
	if err != nil {
		return fmt.Errorf("invalid time-stamp reply: %w", err)
	}
	req, err := timestamp.ParseRequest(query)
	if err != nil {
		return fmt.Errorf("failed to re-read request: %w", err)
	}
	if ts.HashAlgorithm != req.HashAlgorithm || !bytes.Equal(ts.HashedMessage, req.HashedMessage) {
		return fmt.Errorf("%w: reply imprint does not match the request", tsa.ErrHashMismatch)
	}
	if nonce != nil && (ts.Nonce == nil || ts.Nonce.Cmp(nonce) != 0) {
		return fmt.Errorf("%w: reply nonce does not match the request", tsa.ErrInvalidResponse)
	}

	if err := os.WriteFile(requestOutput, reply, 0644); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Time-stamp reply written to %s\n", requestOutput)
	fmt.Fprintf(out, "  Time:         %s\n", ts.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "  Serial:       %s\n", ts.SerialNumber)
	fmt.Fprintf(out, "  Policy:       %s\n", ts.Policy)
	fmt.Fprintf(out, "  Hash:         %s\n", tsa.HashName(ts.HashAlgorithm))
	fmt.Fprintf(out, "  Certificates: %d\n", len(ts.Certificates))
	if nonce != nil {
		fmt.Fprintf(out, "  Nonce:        %s\n", nonce)
	}
	return nil
}

// postQuery sends a DER query and returns the DER reply. A text/plain answer
// is the responder refusing the query; its body is returned in the error.
func postQuery(ctx context.Context, client *http.Client, url string, query []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("invalid responder URL: %w", err)
	}
	httpReq.Header.Set("Content-Type", handler.ContentTypeQuery)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach responder: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("responder returned %s", resp.Status)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != handler.ContentTypeReply {
		return nil, fmt.Errorf("responder refused the request: %s", bytes.TrimSpace(body))
	}
	return body, nil
}
