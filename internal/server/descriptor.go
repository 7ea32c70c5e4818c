package server

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

const processingProtoFile = "orchestrator/v1/processing.proto"

// processingFileDescriptor describes ProcessingService so reflection clients
// such as grpcurl can list and call it. Both methods take and return
// google.protobuf.Struct.
func processingFileDescriptor() *descriptorpb.FileDescriptorProto {
	method := func(name string) *descriptorpb.MethodDescriptorProto {
		return &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(".google.protobuf.Struct"),
			OutputType: proto.String(".google.protobuf.Struct"),
		}
	}
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(processingProtoFile),
		Package:    proto.String("orchestrator.v1"),
		Dependency: []string{"google/protobuf/struct.proto"},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("ProcessingService"),
			Method: []*descriptorpb.MethodDescriptorProto{method("Process"), method("GetJob")},
		}},
		Syntax: proto.String("proto3"),
	}
}

// registerProcessingDescriptor adds the service file to files unless it is
// already there.
func registerProcessingDescriptor(files *protoregistry.Files) (protoreflect.FileDescriptor, error) {
	if fd, err := files.FindFileByPath(processingProtoFile); err == nil {
		return fd, nil
	}
	fd, err := protodesc.NewFile(processingFileDescriptor(), files)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", processingProtoFile, err)
	}
	if err := files.RegisterFile(fd); err != nil {
		return nil, fmt.Errorf("register %s: %w", processingProtoFile, err)
	}
	return fd, nil
}

func init() {
	if _, err := registerProcessingDescriptor(protoregistry.GlobalFiles); err != nil {
		panic(err)
	}
}
