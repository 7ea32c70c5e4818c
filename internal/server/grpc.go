package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/core"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
	"github.com/joseph-ayodele/batch-orchestrator/internal/response"
)

const (
	ProcessingServiceName = "orchestrator.v1.ProcessingService"
	ProcessMethod         = "/" + ProcessingServiceName + "/Process"
	GetJobMethod          = "/" + ProcessingServiceName + "/GetJob"

	// JobIDHeader carries the job id in response metadata.
	JobIDHeader = "x-job-id"
)

// ProcessingServer is the gRPC face of the coordinator. Requests and
// responses are google.protobuf.Struct values with the same shape as the
// HTTP JSON bodies.
type ProcessingServer interface {
	Process(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type ProcessingService struct {
	coord  *core.Coordinator
	logger *slog.Logger
}

var _ ProcessingServer = (*ProcessingService)(nil)

func NewProcessingService(coord *core.Coordinator, logger *slog.Logger) *ProcessingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessingService{coord: coord, logger: logger}
}

// NewGRPCServer builds a gRPC server with the processing service, the health
// service and reflection registered. The health server is returned so callers
// can flip it to NOT_SERVING during shutdown.
func NewGRPCServer(coord *core.Coordinator, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer(opts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ProcessingServiceName, healthpb.HealthCheckResponse_SERVING)
	// Reflection for grpcurl
	reflection.Register(grpcServer)

	RegisterProcessingService(grpcServer, NewProcessingService(coord, logger))
	return grpcServer, hs
}

// RegisterProcessingService registers srv on s.
func RegisterProcessingService(s grpc.ServiceRegistrar, srv ProcessingServer) {
	s.RegisterService(&processingServiceDesc, srv)
}

// Process runs one job to completion. Non-OK outcomes are returned as a
// status error whose details carry the response payload.
func (s *ProcessingService) Process(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw, err := req.MarshalJSON()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "request is not valid JSON")
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			ctx = common.WithRequestID(ctx, ids[0])
		}
	}
	if common.RequestIDFromContext(ctx) == "" {
		ctx = common.WithRequestID(ctx, uuid.NewString())
	}

	job, err := s.coord.Process(ctx, raw)
	if err != nil {
		if job == nil {
			s.logger.Error("grpc.process.failed", "error", err)
			return nil, common.InternalError("failed to process job")
		}
		return nil, status.FromContextError(err).Err()
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(JobIDHeader, job.ID.String()))

	out, err := toStruct(job.Response)
	if err != nil {
		s.logger.Error("grpc.process.encode_failed", "job_id", job.ID, "error", err)
		return nil, common.InternalError("failed to encode response")
	}

	code := response.GRPCCode(job)
	if code == codes.OK {
		return out, nil
	}
	s.logger.Info("grpc.process.not_ok", "job_id", job.ID, "code", code, "status", job.Response.Status)
	st, err := status.New(code, string(job.Response.Status)).WithDetails(out)
	if err != nil {
		return nil, status.Error(code, string(job.Response.Status))
	}
	return nil, st.Err()
}

// GetJob returns the snapshot of the job named by the "job_id" field.
func (s *ProcessingService) GetJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw := req.GetFields()["job_id"].GetStringValue()
	if raw == "" {
		return nil, common.InvalidArgumentError("job_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, common.InvalidArgumentError("job_id must be a UUID")
	}
	job, err := s.coord.Get(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFoundError("job not found")
		}
		s.logger.Warn("grpc.get_job.failed", "job_id", id, "error", err)
		return nil, common.InternalError("job lookup failed")
	}
	out, err := toStruct(job)
	if err != nil {
		return nil, common.InternalErrorf("encode job: %v", err)
	}
	return out, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return out, nil
}

// ResponseFromStatus recovers the response payload attached to a non-OK
// Process status, if any.
func ResponseFromStatus(err error) (*entity.Response, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		b, err := s.MarshalJSON()
		if err != nil {
			return nil, false
		}
		var resp entity.Response
		if err := json.Unmarshal(b, &resp); err != nil {
			return nil, false
		}
		return &resp, true
	}
	return nil, false
}

func processHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProcessingServer).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProcessMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProcessingServer).Process(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getJobHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProcessingServer).GetJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetJobMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProcessingServer).GetJob(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var processingServiceDesc = grpc.ServiceDesc{
	ServiceName: ProcessingServiceName,
	HandlerType: (*ProcessingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Process", Handler: processHandler},
		{MethodName: "GetJob", Handler: getJobHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: processingProtoFile,
}
