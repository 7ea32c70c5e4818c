package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type options struct {
	server    string
	grpcAddr  string
	transport string
	timeout   time.Duration
	config    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Submit and inspect batch orchestration jobs",
		SilenceUsage:  true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "orchestrator HTTP base URL")
	flags.StringVar(&opts.grpcAddr, "grpc-addr", "localhost:9090", "orchestrator gRPC address")
	flags.StringVar(&opts.transport, "transport", "http", "transport for submit and get: http or grpc")
	flags.DurationVar(&opts.timeout, "timeout", 3*time.Minute, "overall request timeout")
	flags.StringVar(&opts.config, "config", "", "path to an HCL config file (config show)")

	rootCmd.AddCommand(submitCmd(opts))
	rootCmd.AddCommand(getCmd(opts))
	rootCmd.AddCommand(cancelCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))
	rootCmd.AddCommand(configCmd(opts))
	return rootCmd
}

func (o *options) validateTransport() error {
	switch o.transport {
	case "http", "grpc":
		return nil
	}
	return fmt.Errorf("unknown transport %q (want http or grpc)", o.transport)
}

func (o *options) dialGRPC() (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(o.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", o.grpcAddr, err)
	}
	return conn, nil
}

// doHTTP sends one request to the orchestrator and returns status and body.
func (o *options) doHTTP(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(o.server, "/")+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := (&http.Client{Timeout: o.timeout}).Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, b, nil
}

func printJSON(w io.Writer, raw []byte) {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		fmt.Fprintln(w, strings.TrimSpace(string(raw)))
		return
	}
	fmt.Fprintln(w, out.String())
}
