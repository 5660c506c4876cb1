package notifier

import (
	"context"
	"log/slog"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

// LogNotifier writes events to the structured log. It is the default when no
// broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event domain.Notification) error {
	n.logger.InfoContext(ctx, "notifier: order event",
		slog.String("kind", string(event.Kind)),
		slog.Int64("order_id", event.OrderID),
		slog.String("status", string(event.Status)),
		slog.String("payment_status", string(event.PaymentStatus)),
		slog.String("description", event.Description),
	)
	return nil
}
