package models

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusInProgress: {OrderStatusCompleted, OrderStatusCancelled},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusInProgress, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order in status s may move to next.
// Staying in the same status is always allowed.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// Order is a service order. Client and Contractor are references to users owned elsewhere.
type Order struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      OrderStatus `json:"status"`
	Urgency     Urgency     `json:"urgency"`
	Category    string      `json:"category,omitempty"`
	Client      User        `json:"client"`
	Contractor  *User       `json:"contractor,omitempty"`
	Budget      *float64    `json:"budget,omitempty"`
	Location    string      `json:"location,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// OrderPatch is a partial order update. Nil fields are left untouched.
type OrderPatch struct {
	Status      *OrderStatus `json:"status,omitempty"`
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Urgency     *Urgency     `json:"urgency,omitempty"`
	Budget      *float64     `json:"budget,omitempty"`
	Location    *string      `json:"location,omitempty"`
}

// Apply returns a copy of o with the patch applied.
// The original order is never modified.
func (p OrderPatch) Apply(o Order) (Order, error) {
	if p.Status != nil {
		if !p.Status.Valid() {
			return o, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *p.Status)
		}
		if !o.Status.CanTransition(*p.Status) {
			return o, fmt.Errorf("%w: order %s cannot move from %s to %s", ErrInvalidInput, o.ID, o.Status, *p.Status)
		}
		o.Status = *p.Status
	}
	if p.Urgency != nil {
		if !p.Urgency.Valid() {
			return o, fmt.Errorf("%w: unknown urgency %q", ErrInvalidInput, *p.Urgency)
		}
		o.Urgency = *p.Urgency
	}
	if p.Title != nil {
		o.Title = *p.Title
	}
	if p.Description != nil {
		o.Description = *p.Description
	}
	if p.Budget != nil {
		budget := *p.Budget
		o.Budget = &budget
	}
	if p.Location != nil {
		o.Location = *p.Location
	}
	return o, nil
}

// StatusPatch is a shorthand for a patch that only changes the status.
func StatusPatch(s OrderStatus) OrderPatch {
	return OrderPatch{Status: &s}
}
