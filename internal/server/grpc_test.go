package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
)

func dialTestServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	f := newFixture(t)
	lis := bufconn.Listen(1 << 20)
	srv, _ := NewGRPCServer(f.coord, quietLogger())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCProcessCompletes(t *testing.T) {
	conn := dialTestServer(t)
	ctx := context.Background()

	req, err := structpb.NewStruct(map[string]any{
		"data":          []any{1, 2, 3, 4, 5},
		"pipeline_type": "compare",
	})
	require.NoError(t, err)

	var header metadata.MD
	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, ProcessMethod, req, out, grpc.Header(&header)))

	assert.Equal(t, string(constants.ResponseStatusCompleted), out.GetFields()["status"].GetStringValue())
	assert.Equal(t, float64(5), out.GetFields()["data_processed"].GetNumberValue())
	ids := header.Get(JobIDHeader)
	require.Len(t, ids, 1)

	getReq, err := structpb.NewStruct(map[string]any{"job_id": ids[0]})
	require.NoError(t, err)
	job := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, GetJobMethod, getReq, job))
	assert.Equal(t, string(constants.JobStateCompleted), job.GetFields()["state"].GetStringValue())
}

func TestGRPCProcessRejectedCarriesResponse(t *testing.T) {
	conn := dialTestServer(t)

	req, err := structpb.NewStruct(map[string]any{"data": []any{}, "pipeline_type": "rdd"})
	require.NoError(t, err)
	err = conn.Invoke(context.Background(), ProcessMethod, req, new(structpb.Struct))

	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	resp, ok := ResponseFromStatus(err)
	require.True(t, ok)
	assert.Equal(t, constants.ResponseStatusRejected, resp.Status)
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, "data", resp.Errors[0].Field)
}

func TestGRPCGetJobValidatesID(t *testing.T) {
	conn := dialTestServer(t)

	req, err := structpb.NewStruct(map[string]any{"job_id": "nope"})
	require.NoError(t, err)
	err = conn.Invoke(context.Background(), GetJobMethod, req, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCHealth(t *testing.T) {
	conn := dialTestServer(t)

	res, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ProcessingServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.GetStatus())
}

func TestGRPCReflectionDescribesService(t *testing.T) {
	conn := dialTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	require.NoError(t, err)
	defer stream.CloseSend()

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{},
	}))
	res, err := stream.Recv()
	require.NoError(t, err)
	var names []string
	for _, s := range res.GetListServicesResponse().GetService() {
		names = append(names, s.GetName())
	}
	assert.Contains(t, names, ProcessingServiceName)

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: ProcessingServiceName},
	}))
	res, err = stream.Recv()
	require.NoError(t, err)
	require.Nil(t, res.GetErrorResponse())
	files := res.GetFileDescriptorResponse().GetFileDescriptorProto()
	require.NotEmpty(t, files)

	var found bool
	for _, raw := range files {
		fd := new(descriptorpb.FileDescriptorProto)
		require.NoError(t, proto.Unmarshal(raw, fd))
		if fd.GetName() != processingProtoFile {
			continue
		}
		found = true
		require.Len(t, fd.GetService(), 1)
		svc := fd.GetService()[0]
		assert.Equal(t, "ProcessingService", svc.GetName())
		require.Len(t, svc.GetMethod(), 2)
		assert.Equal(t, "Process", svc.GetMethod()[0].GetName())
		assert.Equal(t, ".google.protobuf.Struct", svc.GetMethod()[0].GetInputType())
		assert.Equal(t, "GetJob", svc.GetMethod()[1].GetName())
	}
	assert.True(t, found)
}

func TestRegisterProcessingDescriptorIsIdempotent(t *testing.T) {
	files := new(protoregistry.Files)
	require.NoError(t, files.RegisterFile(structpb.File_google_protobuf_struct_proto))

	first, err := registerProcessingDescriptor(files)
	require.NoError(t, err)
	second, err := registerProcessingDescriptor(files)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	desc, err := files.FindDescriptorByName(ProcessingServiceName)
	require.NoError(t, err)
	assert.Equal(t, processingProtoFile, desc.ParentFile().Path())
}
