package domain

import (
	"fmt"
	"strings"
	"time"
)

type ActorKind string

const (
	ActorSystem   ActorKind = "system"
	ActorOperator ActorKind = "operator"
	ActorCustomer ActorKind = "customer"
	ActorGuest    ActorKind = "guest"
)

// Actor is who asked for a change. For guests ID is the checkout email.
type Actor struct {
	Kind ActorKind
	ID   string
}

var SystemActor = Actor{Kind: ActorSystem}

func ParseActorKind(s string) (ActorKind, error) {
	switch k := ActorKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ActorSystem, ActorOperator, ActorCustomer, ActorGuest:
		return k, nil
	}
	return "", fmt.Errorf("unknown actor kind %q", s)
}

func (a Actor) Privileged() bool {
	return a.Kind == ActorSystem || a.Kind == ActorOperator
}

// ActivityEntry is one append-only audit row. FromStatus is empty for the
// creation row.
type ActivityEntry struct {
	ID          int64
	OrderID     int64
	FromStatus  OrderStatus
	ToStatus    OrderStatus
	ActorKind   ActorKind
	ActorID     string
	Description string
	CreatedAt   time.Time
}

type EventKind string

const (
	EventOrderCreated         EventKind = "order.created"
	EventOrderStatusChanged   EventKind = "order.status_changed"
	EventPaymentExpired       EventKind = "order.payment_expired"
	EventPaymentMethodChanged EventKind = "order.payment_method_changed"
	EventPaymentReceived      EventKind = "order.payment_received"
	EventPaymentFailed        EventKind = "order.payment_failed"
	EventDiscountChanged      EventKind = "order.discount_changed"
)

// Notification is published after a change commits.
type Notification struct {
	Kind          EventKind     `json:"kind"`
	OrderID       int64         `json:"order_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Description   string        `json:"description,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}
