// Package grpcserver exposes the read side of the book service over gRPC.
//
// Messages are google.protobuf.Struct values, so clients need no generated
// stubs: requests carry "symbol" and optionally "depth", responses carry the
// JSON shape of service.MarketData or service.Stats.
package grpcserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"lobcore/service"
)

const ServiceName = "lobcore.v1.MarketData"

// MarketDataServer is the interface served under ServiceName.
type MarketDataServer interface {
	GetBBO(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDepth(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSymbols(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server adapts BookService to gRPC.
type Server struct {
	svc          *service.BookService
	defaultDepth int
	log          *zap.SugaredLogger
}

func NewServer(svc *service.BookService, defaultDepth int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultDepth <= 0 {
		defaultDepth = 10
	}
	return &Server{svc: svc, defaultDepth: defaultDepth, log: logger.Named("grpc").Sugar()}
}

// Register attaches s to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// UnaryLogger logs every call with its latency and status code.
func (s *Server) UnaryLogger() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		s.log.Debugw("call", "method", info.FullMethod, "code", status.Code(err).String(), "took", time.Since(start))
		return resp, err
	}
}

// -------------------- Queries --------------------

func (s *Server) GetBBO(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	md, err := s.marketData(req, 1)
	if err != nil {
		return nil, err
	}
	md.Bids, md.Asks = nil, nil
	return toStruct(md)
}

func (s *Server) GetDepth(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	depth := s.defaultDepth
	if v, ok := req.GetFields()["depth"]; ok {
		depth = int(v.GetNumberValue())
	}
	md, err := s.marketData(req, depth)
	if err != nil {
		return nil, err
	}
	return toStruct(md)
}

func (s *Server) GetStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	symbol, err := symbolOf(req)
	if err != nil {
		return nil, err
	}
	eng, ok := s.svc.Engine(symbol)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown symbol %q", symbol)
	}
	return toStruct(eng.Stats())
}

func (s *Server) ListSymbols(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	syms := s.svc.Symbols()
	list := make([]any, len(syms))
	for i, sym := range syms {
		list[i] = sym
	}
	out, err := structpb.NewStruct(map[string]any{"symbols": list})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) marketData(req *structpb.Struct, depth int) (service.MarketData, error) {
	symbol, err := symbolOf(req)
	if err != nil {
		return service.MarketData{}, err
	}
	md, err := s.svc.MarketData(symbol, depth)
	if errors.Is(err, service.ErrUnknownSymbol) {
		return md, status.Errorf(codes.NotFound, "unknown symbol %q", symbol)
	}
	if err != nil {
		return md, status.Error(codes.Internal, err.Error())
	}
	return md, nil
}

// -------------------- Converters --------------------

func symbolOf(req *structpb.Struct) (string, error) {
	symbol := req.GetFields()["symbol"].GetStringValue()
	if symbol == "" {
		return "", status.Error(codes.InvalidArgument, "symbol is required")
	}
	return symbol, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// -------------------- Descriptor --------------------

func unary(call func(MarketDataServer, context.Context, *structpb.Struct) (*structpb.Struct, error), name string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MarketDataServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(MarketDataServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketDataServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MarketDataServer.GetBBO, "GetBBO"),
		unary(MarketDataServer.GetDepth, "GetDepth"),
		unary(MarketDataServer.GetStats, "GetStats"),
		unary(MarketDataServer.ListSymbols, "ListSymbols"),
	},
	Metadata: "lobcore/marketdata",
}
