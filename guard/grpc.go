package guard

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"request-throttle-service/domain"
)

// UnaryClientInterceptor guards outgoing grpc calls with a fixed
// category. Denials are surfaced as ResourceExhausted so retrying
// clients back off the same way they would on a server-side limit.
func UnaryClientInterceptor(checker Checker, category domain.Category) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req any,
		reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		decision, err := checker.Check(ctx, category, method, nil)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if !decision.Allowed() {
			return status.Errorf(codes.ResourceExhausted,
				"call throttled: reason '%s', count %d, limit %d",
				decision.Reason, decision.Count, decision.Limit,
			)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
