package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rulefilter/internal/core/api"
)

/*
 * The RuleFilter service carries google.protobuf.Struct messages whose
 * fields mirror the JSON encoding of the api request and response types:
 *
 *   rpc Evaluate(Struct) returns (Struct)   api.EvaluateRequest  -> api.EvaluateResponse
 *   rpc Translate(Struct) returns (Struct)  api.TranslateRequest -> api.TranslateResponse
 *   rpc ListRuleSets(Struct) returns (Struct)                    -> {"rule_sets": [...]}
 *
 * Entities are free-form documents, so a Struct payload needs no generated
 * message per scope.
 */

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "rulefilter.v1.RuleFilter"

const (
	evaluateMethod     = "/" + ServiceName + "/Evaluate"
	translateMethod    = "/" + ServiceName + "/Translate"
	listRuleSetsMethod = "/" + ServiceName + "/ListRuleSets"
)

// RuleFilterServer is the server API for the RuleFilter service.
type RuleFilterServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Translate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuleSets(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterRuleFilterServer registers srv with s.
func RegisterRuleFilterServer(s grpc.ServiceRegistrar, srv RuleFilterServer) {
	s.RegisterService(&ruleFilterServiceDesc, srv)
}

var ruleFilterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuleFilterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: unaryHandler(evaluateMethod, RuleFilterServer.Evaluate)},
		{MethodName: "Translate", Handler: unaryHandler(translateMethod, RuleFilterServer.Translate)},
		{MethodName: "ListRuleSets", Handler: unaryHandler(listRuleSetsMethod, RuleFilterServer.ListRuleSets)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rulefilter/v1/rule_filter.proto",
}

type structMethod func(RuleFilterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RuleFilterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RuleFilterServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ruleFilterServer adapts api.RuleService to Struct messages.
type ruleFilterServer struct {
	service *api.RuleService
}

func (s *ruleFilterServer) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.EvaluateRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	resp, err := s.service.Evaluate(ctx, &req)
	if err != nil {
		return nil, api.GRPCError(err)
	}
	return toStruct(resp)
}

func (s *ruleFilterServer) Translate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.TranslateRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	resp, err := s.service.Translate(ctx, &req)
	if err != nil {
		return nil, api.GRPCError(err)
	}
	return toStruct(resp)
}

func (s *ruleFilterServer) ListRuleSets(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sets, err := s.service.ListRuleSets(ctx)
	if err != nil {
		return nil, api.GRPCError(err)
	}
	return toStruct(ListRuleSetsResponse{RuleSets: sets})
}

// ListRuleSetsResponse wraps the rule set summaries.
type ListRuleSetsResponse struct {
	RuleSets []api.RuleSetSummary `json:"rule_sets"`
}

func fromStruct(in *structpb.Struct, dest any) error {
	b, err := in.MarshalJSON()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// Client calls the RuleFilter service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates a client over conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Evaluate calls RuleFilter/Evaluate.
func (c *Client) Evaluate(ctx context.Context, req *api.EvaluateRequest, opts ...grpc.CallOption) (*api.EvaluateResponse, error) {
	var resp api.EvaluateResponse
	if err := c.invoke(ctx, evaluateMethod, req, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Translate calls RuleFilter/Translate.
func (c *Client) Translate(ctx context.Context, req *api.TranslateRequest, opts ...grpc.CallOption) (*api.TranslateResponse, error) {
	var resp api.TranslateResponse
	if err := c.invoke(ctx, translateMethod, req, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuleSets calls RuleFilter/ListRuleSets.
func (c *Client) ListRuleSets(ctx context.Context, opts ...grpc.CallOption) ([]api.RuleSetSummary, error) {
	var resp ListRuleSetsResponse
	if err := c.invoke(ctx, listRuleSetsMethod, struct{}{}, &resp, opts...); err != nil {
		return nil, err
	}
	return resp.RuleSets, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := toStruct(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out, opts...); err != nil {
		return err
	}
	if err := fromStruct(out, resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}
