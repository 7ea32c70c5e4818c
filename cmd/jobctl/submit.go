package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	svc "github.com/joseph-ayodele/batch-orchestrator/internal/server"
)

func submitCmd(opts *options) *cobra.Command {
	var (
		data     string
		pipeline string
		store    bool
	)
	cmd := &cobra.Command{
		Use:   "submit [request.json|-]",
		Short: "Submit a job and wait for its response",
		Long: "Submit a job request read from a file, stdin, or built from --data and --pipeline,\n" +
			"then print the terminal response.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validateTransport(); err != nil {
				return err
			}
			body, err := requestBody(cmd.InOrStdin(), args, data, pipeline, store)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if opts.transport == "grpc" {
				return submitGRPC(ctx, cmd.OutOrStdout(), opts, body)
			}
			code, resp, err := opts.doHTTP(ctx, http.MethodPost, "/v1/jobs", body)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			printJSON(cmd.OutOrStdout(), resp)
			if code >= http.StatusBadRequest {
				return fmt.Errorf("job did not complete (HTTP %d)", code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "comma separated numbers, e.g. 1,2,3")
	cmd.Flags().StringVar(&pipeline, "pipeline", "compare", "pipeline_type used with --data: rdd, dataframe or compare")
	cmd.Flags().BoolVar(&store, "store", false, "set store_results when building the request from --data")
	return cmd
}

func requestBody(stdin io.Reader, args []string, data, pipeline string, store bool) ([]byte, error) {
	if data != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("use either a request file or --data, not both")
		}
		parts := strings.Split(data, ",")
		values := make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid --data value %q", p)
			}
			values = append(values, f)
		}
		return json.Marshal(map[string]any{
			"data":          values,
			"pipeline_type": pipeline,
			"store_results": store,
		})
	}
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(args[0])
}

func submitGRPC(ctx context.Context, w io.Writer, opts *options, body []byte) error {
	req := &structpb.Struct{}
	if err := req.UnmarshalJSON(body); err != nil {
		return fmt.Errorf("request must be a JSON object: %w", err)
	}
	conn, err := opts.dialGRPC()
	if err != nil {
		return err
	}
	defer conn.Close()

	var header metadata.MD
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, svc.ProcessMethod, req, out, grpc.Header(&header))
	if err != nil {
		resp, ok := svc.ResponseFromStatus(err)
		if !ok {
			return fmt.Errorf("submit: %w", err)
		}
		b, _ := json.Marshal(resp)
		printJSON(w, b)
		return fmt.Errorf("job did not complete (%s)", status.Code(err))
	}
	b, err := out.MarshalJSON()
	if err != nil {
		return err
	}
	printJSON(w, b)
	return nil
}
