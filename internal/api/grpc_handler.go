package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"storefront-service/internal/cart"
	"storefront-service/internal/domain"
)

// CartServiceName is the fully qualified gRPC service name.
const CartServiceName = "storefront.cart.v1.CartService"

// CartServiceServer is the server API for the cart service. Requests and
// responses are google.protobuf.Struct documents.
type CartServiceServer interface {
	GetCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Revalidate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SyncCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Checkout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckAvailability(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type cartCall func(CartServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call cartCall) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CartServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + CartServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CartServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// CartServiceDesc describes the cart service for grpc.Server.RegisterService.
var CartServiceDesc = grpc.ServiceDesc{
	ServiceName: CartServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCart", Handler: unaryHandler("GetCart", CartServiceServer.GetCart)},
		{MethodName: "AddItem", Handler: unaryHandler("AddItem", CartServiceServer.AddItem)},
		{MethodName: "UpdateItem", Handler: unaryHandler("UpdateItem", CartServiceServer.UpdateItem)},
		{MethodName: "RemoveItem", Handler: unaryHandler("RemoveItem", CartServiceServer.RemoveItem)},
		{MethodName: "ClearCart", Handler: unaryHandler("ClearCart", CartServiceServer.ClearCart)},
		{MethodName: "Revalidate", Handler: unaryHandler("Revalidate", CartServiceServer.Revalidate)},
		{MethodName: "SyncCart", Handler: unaryHandler("SyncCart", CartServiceServer.SyncCart)},
		{MethodName: "Checkout", Handler: unaryHandler("Checkout", CartServiceServer.Checkout)},
		{MethodName: "CheckAvailability", Handler: unaryHandler("CheckAvailability", CartServiceServer.CheckAvailability)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/cart/v1/cart.proto",
}

// RegisterCartServiceServer registers srv with s.
func RegisterCartServiceServer(s grpc.ServiceRegistrar, srv CartServiceServer) {
	s.RegisterService(&CartServiceDesc, srv)
}

// GRPCHandler implements CartServiceServer on top of the cart manager.
type GRPCHandler struct {
	carts *cart.Manager
	stock cart.StockSource
	log   logrus.FieldLogger
}

var _ CartServiceServer = (*GRPCHandler)(nil)

// NewGRPCHandler creates a new GRPCHandler.
func NewGRPCHandler(cm *cart.Manager, stock cart.StockSource, log logrus.FieldLogger) *GRPCHandler {
	return &GRPCHandler{carts: cm, stock: stock, log: log.WithField("component", "grpc")}
}

// --- Helper: Error Mapping ---

func (s *GRPCHandler) mapErrorToGrpcStatus(err error, method string) error {
	if err == nil {
		return nil
	}

	var verr *domain.ValidationError
	var stockErr *cart.StockChangedError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.As(err, &stockErr):
		st := status.New(codes.FailedPrecondition, stockErr.Error())
		if detail, derr := toStruct(map[string]any{"issues": stockErr.Issues}); derr == nil {
			if withDetails, werr := st.WithDetails(detail); werr == nil {
				st = withDetails
			}
		}
		return st.Err()
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrOutOfStock), errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.log.WithField("method", method).WithError(err).Error("cart operation failed")
		return status.Errorf(codes.Internal, "failed to process %s", method)
	}
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

// intField reads a whole number. ok is false when the field is absent.
func intField(req *structpb.Struct, name string) (n int, ok bool, err error) {
	v, present := req.GetFields()[name]
	if !present {
		return 0, false, nil
	}
	num, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || num.NumberValue != math.Trunc(num.NumberValue) ||
		math.Abs(num.NumberValue) > math.MaxInt32 {
		return 0, true, domain.NewValidationError(name, "must be an integer")
	}
	return int(num.NumberValue), true, nil
}

func (s *GRPCHandler) respondCart(view cart.View, method string) (*structpb.Struct, error) {
	out, err := toStruct(newCartResponse(view))
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(fmt.Errorf("encode cart: %w", err), method)
	}
	return out, nil
}

// --- Cart gRPC Methods Implementation ---

func (s *GRPCHandler) GetCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	view, err := s.carts.Get(ctx, stringField(req, "session_id"))
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "GetCart")
	}
	return s.respondCart(view, "GetCart")
}

func (s *GRPCHandler) AddItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	productID := stringField(req, "product_id")
	if productID == "" {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}
	quantity, present, err := intField(req, "quantity")
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "AddItem")
	}
	if !present {
		quantity = 1
	}

	line, view, err := s.carts.AddItem(ctx, stringField(req, "session_id"), productID, quantity)
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "AddItem")
	}
	resp := newCartResponse(view)
	out, err := toStruct(map[string]any{"quantity": line.Quantity, "cart": resp})
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "AddItem")
	}
	return out, nil
}

func (s *GRPCHandler) UpdateItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	quantity, present, err := intField(req, "quantity")
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "UpdateItem")
	}
	if !present {
		return nil, status.Error(codes.InvalidArgument, "quantity is required")
	}

	view, err := s.carts.UpdateItem(ctx, stringField(req, "session_id"), stringField(req, "product_id"), quantity)
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "UpdateItem")
	}
	return s.respondCart(view, "UpdateItem")
}

func (s *GRPCHandler) RemoveItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	view, err := s.carts.RemoveItem(ctx, stringField(req, "session_id"), stringField(req, "product_id"))
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "RemoveItem")
	}
	return s.respondCart(view, "RemoveItem")
}

func (s *GRPCHandler) ClearCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	view, err := s.carts.Clear(ctx, stringField(req, "session_id"))
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "ClearCart")
	}
	return s.respondCart(view, "ClearCart")
}

func (s *GRPCHandler) Revalidate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	issues, err := s.carts.Revalidate(ctx, stringField(req, "session_id"))
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "Revalidate")
	}
	out, err := toStruct(map[string]any{"valid": len(issues) == 0, "issues": issues})
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "Revalidate")
	}
	return out, nil
}

func (s *GRPCHandler) SyncCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	view, adjusted, err := s.carts.Sync(ctx, stringField(req, "session_id"))
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "SyncCart")
	}
	out, err := toStruct(map[string]any{"cart": newCartResponse(view), "adjusted": adjusted})
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "SyncCart")
	}
	return out, nil
}

func (s *GRPCHandler) Checkout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	quote, err := s.carts.Checkout(ctx, stringField(req, "session_id"))
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "Checkout")
	}
	out, err := toStruct(CheckoutResponse{
		Reference: quote.Reference,
		QuotedAt:  quote.QuotedAt,
		Cart:      newCartResponse(quote.View),
	})
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "Checkout")
	}
	return out, nil
}

// CheckAvailability revalidates an arbitrary list of
// {"product_id", "quantity"} entries without touching any cart.
func (s *GRPCHandler) CheckAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	entries := req.GetFields()["items"].GetListValue().GetValues()
	if len(entries) == 0 {
		return nil, status.Error(codes.InvalidArgument, "items must not be empty")
	}

	items := make([]domain.LineItem, 0, len(entries))
	for i, entry := range entries {
		fields := entry.GetStructValue()
		productID := stringField(fields, "product_id")
		quantity, _, err := intField(fields, "quantity")
		if productID == "" || err != nil || quantity <= 0 {
			return nil, status.Errorf(codes.InvalidArgument, "items[%d] needs a product_id and a positive quantity", i)
		}
		items = append(items, domain.LineItem{
			Product:  domain.ProductSnapshot{ID: productID},
			Quantity: quantity,
		})
	}

	issues, err := cart.Revalidate(ctx, items, s.stock, cart.DefaultConcurrency)
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "CheckAvailability")
	}
	out, err := toStruct(map[string]any{"available": len(issues) == 0, "issues": issues})
	if err != nil {
		return nil, s.mapErrorToGrpcStatus(err, "CheckAvailability")
	}
	return out, nil
}

// UnaryLoggingInterceptor logs each unary call with its status code and latency.
func UnaryLoggingInterceptor(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		entry := log.WithFields(logrus.Fields{
			"method":  info.FullMethod,
			"code":    code.String(),
			"latency": time.Since(start),
		})
		switch code {
		case codes.OK:
			entry.Info("gRPC call completed")
		case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
			entry.WithError(err).Error("gRPC call failed")
		default:
			entry.Warn("gRPC call rejected")
		}
		return resp, err
	}
}
