package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	svc "github.com/joseph-ayodele/batch-orchestrator/internal/server"
)

func getCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job, live or archived",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validateTransport(); err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("job id must be a UUID: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if opts.transport == "grpc" {
				conn, err := opts.dialGRPC()
				if err != nil {
					return err
				}
				defer conn.Close()
				req, err := structpb.NewStruct(map[string]any{"job_id": id.String()})
				if err != nil {
					return err
				}
				out := &structpb.Struct{}
				if err := conn.Invoke(ctx, svc.GetJobMethod, req, out); err != nil {
					return fmt.Errorf("get: %w", err)
				}
				b, err := out.MarshalJSON()
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), b)
				return nil
			}

			code, body, err := opts.doHTTP(ctx, http.MethodGet, "/v1/jobs/"+id.String(), nil)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			printJSON(cmd.OutOrStdout(), body)
			if code != http.StatusOK {
				return fmt.Errorf("get: HTTP %d", code)
			}
			return nil
		},
	}
}

func cancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("job id must be a UUID: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			code, body, err := opts.doHTTP(ctx, http.MethodDelete, "/v1/jobs/"+id.String(), nil)
			if err != nil {
				return fmt.Errorf("cancel: %w", err)
			}
			printJSON(cmd.OutOrStdout(), body)
			if code >= http.StatusBadRequest {
				return fmt.Errorf("cancel: HTTP %d", code)
			}
			return nil
		},
	}
}
