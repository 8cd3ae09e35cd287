// Package workertest provides an in-process Zeebe job client that records the commands a handler sends.
package workertest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/camunda/zeebe/clients/go/v8/pkg/commands"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"google.golang.org/grpc"
)

// JobClient implements worker.JobClient against a recording gateway.
type JobClient struct {
	gateway *gateway
}

func NewJobClient() *JobClient {
	return &JobClient{gateway: &gateway{}}
}

func noRetry(context.Context, error) bool { return false }

func (c *JobClient) NewCompleteJobCommand() commands.CompleteJobCommandStep1 {
	return commands.NewCompleteJobCommand(c.gateway, noRetry)
}

func (c *JobClient) NewFailJobCommand() commands.FailJobCommandStep1 {
	return commands.NewFailJobCommand(c.gateway, noRetry)
}

func (c *JobClient) NewThrowErrorCommand() commands.ThrowErrorCommandStep1 {
	return commands.NewThrowErrorCommand(c.gateway, noRetry)
}

func (c *JobClient) Completed() []*pb.CompleteJobRequest {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	return append([]*pb.CompleteJobRequest(nil), c.gateway.completed...)
}

func (c *JobClient) Failed() []*pb.FailJobRequest {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	return append([]*pb.FailJobRequest(nil), c.gateway.failed...)
}

func (c *JobClient) Thrown() []*pb.ThrowErrorRequest {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	return append([]*pb.ThrowErrorRequest(nil), c.gateway.thrown...)
}

// CompletedVariables decodes the variables of the only completed job into out.
func (c *JobClient) CompletedVariables(t testing.TB, out interface{}) {
	t.Helper()
	completed := c.Completed()
	if len(completed) != 1 {
		t.Fatalf("expected one completed job, got %d", len(completed))
	}
	if err := json.Unmarshal([]byte(completed[0].Variables), out); err != nil {
		t.Fatalf("decode completed variables: %v", err)
	}
}

// gateway records job commands; every other RPC panics through the nil embedded client.
type gateway struct {
	pb.GatewayClient

	mu        sync.Mutex
	completed []*pb.CompleteJobRequest
	failed    []*pb.FailJobRequest
	thrown    []*pb.ThrowErrorRequest
}

func (g *gateway) CompleteJob(_ context.Context, in *pb.CompleteJobRequest, _ ...grpc.CallOption) (*pb.CompleteJobResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed = append(g.completed, in)
	return &pb.CompleteJobResponse{}, nil
}

func (g *gateway) FailJob(_ context.Context, in *pb.FailJobRequest, _ ...grpc.CallOption) (*pb.FailJobResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed = append(g.failed, in)
	return &pb.FailJobResponse{}, nil
}

func (g *gateway) ThrowError(_ context.Context, in *pb.ThrowErrorRequest, _ ...grpc.CallOption) (*pb.ThrowErrorResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.thrown = append(g.thrown, in)
	return &pb.ThrowErrorResponse{}, nil
}

// NewJob builds an activated job carrying variables as its JSON payload.
func NewJob(key int64, taskType string, retries int32, variables interface{}) entities.Job {
	var payload string
	switch v := variables.(type) {
	case string:
		payload = v
	default:
		raw, _ := json.Marshal(v)
		payload = string(raw)
	}
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               taskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "reconciliation-run",
		ElementId:          "Activity_" + taskType,
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            retries,
		Variables:          payload,
	}}
}
