package domain

import (
	"fmt"
	"time"
)

type NotificationType string

const (
	NotificationOrderStatus NotificationType = "order_status"
	NotificationSystem      NotificationType = "system"
	NotificationPromotion   NotificationType = "promotion"
)

type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
	OrderID   string           `json:"order_id,omitempty"`
}

// TransitionKey identifies one observed order status change: "orderID|old|new".
type TransitionKey string

func NewTransitionKey(orderID string, from, to OrderStatus) TransitionKey {
	return TransitionKey(fmt.Sprintf("%s|%d|%d", orderID, int(from), int(to)))
}
