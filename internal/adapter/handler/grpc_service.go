package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype clients select with
// grpc.CallContentSubtype to talk to OrderService.
const CodecName = "json"

const orderServiceName = "storefront.orders.v1.OrderService"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type ActorMessage struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

type CreateOrderRequest struct {
	Actor    ActorMessage        `json:"actor"`
	Checkout CheckoutHTTPRequest `json:"checkout"`
}

type OrderRequest struct {
	Actor   ActorMessage `json:"actor"`
	OrderID int64        `json:"order_id"`
}

type TransitionOrderRequest struct {
	Actor          ActorMessage `json:"actor"`
	OrderID        int64        `json:"order_id"`
	Status         string       `json:"status"`
	TrackingNumber string       `json:"tracking_number,omitempty"`
	Reason         string       `json:"reason,omitempty"`
}

type ApplyDiscountRequest struct {
	Actor   ActorMessage `json:"actor"`
	OrderID int64        `json:"order_id"`
	Code    string       `json:"code"`
}

type PaymentSessionReply struct {
	OrderID       int64  `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	RedirectURL   string `json:"redirect_url"`
	ExpiresAtUnix int64  `json:"expires_at_unix"`
}

// OrderServiceServer is the gRPC surface of the order lifecycle.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*OrderResponse, error)
	GetOrder(context.Context, *OrderRequest) (*OrderResponse, error)
	TransitionOrder(context.Context, *TransitionOrderRequest) (*TransitionResponse, error)
	StartPaymentSession(context.Context, *OrderRequest) (*PaymentSessionReply, error)
	ConvertToCashOnDelivery(context.Context, *OrderRequest) (*OrderResponse, error)
	ApplyDiscount(context.Context, *ApplyDiscountRequest) (*DiscountResponse, error)
	RemoveDiscount(context.Context, *OrderRequest) (*OrderResponse, error)
}

func unaryHandler[Req any, Resp any](method string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + orderServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unaryHandler("CreateOrder", OrderServiceServer.CreateOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler("GetOrder", OrderServiceServer.GetOrder)},
		{MethodName: "TransitionOrder", Handler: unaryHandler("TransitionOrder", OrderServiceServer.TransitionOrder)},
		{MethodName: "StartPaymentSession", Handler: unaryHandler("StartPaymentSession", OrderServiceServer.StartPaymentSession)},
		{MethodName: "ConvertToCashOnDelivery", Handler: unaryHandler("ConvertToCashOnDelivery", OrderServiceServer.ConvertToCashOnDelivery)},
		{MethodName: "ApplyDiscount", Handler: unaryHandler("ApplyDiscount", OrderServiceServer.ApplyDiscount)},
		{MethodName: "RemoveDiscount", Handler: unaryHandler("RemoveDiscount", OrderServiceServer.RemoveDiscount)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/orders/v1/orders.json",
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// OrderServiceClient calls OrderService with the JSON codec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+orderServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, "CreateOrder", in, opts)
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, "GetOrder", in, opts)
}

func (c *OrderServiceClient) TransitionOrder(ctx context.Context, in *TransitionOrderRequest, opts ...grpc.CallOption) (*TransitionResponse, error) {
	return invoke[TransitionResponse](ctx, c.cc, "TransitionOrder", in, opts)
}

func (c *OrderServiceClient) StartPaymentSession(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*PaymentSessionReply, error) {
	return invoke[PaymentSessionReply](ctx, c.cc, "StartPaymentSession", in, opts)
}

func (c *OrderServiceClient) ConvertToCashOnDelivery(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, "ConvertToCashOnDelivery", in, opts)
}

func (c *OrderServiceClient) ApplyDiscount(ctx context.Context, in *ApplyDiscountRequest, opts ...grpc.CallOption) (*DiscountResponse, error) {
	return invoke[DiscountResponse](ctx, c.cc, "ApplyDiscount", in, opts)
}

func (c *OrderServiceClient) RemoveDiscount(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, "RemoveDiscount", in, opts)
}
