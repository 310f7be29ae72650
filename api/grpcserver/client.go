package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a MarketData server over conn.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBBO(ctx context.Context, symbol string) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetBBO", map[string]any{"symbol": symbol})
}

func (c *Client) GetDepth(ctx context.Context, symbol string, depth int) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetDepth", map[string]any{"symbol": symbol, "depth": depth})
}

func (c *Client) GetStats(ctx context.Context, symbol string) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetStats", map[string]any{"symbol": symbol})
}

func (c *Client) ListSymbols(ctx context.Context) ([]string, error) {
	out, err := c.invoke(ctx, "ListSymbols", map[string]any{})
	if err != nil {
		return nil, err
	}
	var syms []string
	for _, v := range out.GetFields()["symbols"].GetListValue().GetValues() {
		syms = append(syms, v.GetStringValue())
	}
	return syms, nil
}
