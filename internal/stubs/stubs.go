package stubs

import (
	"fmt"
	"time"

	"conserv/internal/models"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "password123"

var Users = []models.User{
	{ID: "1", Name: "Admin", Email: "admin@conserv-service.com", Role: models.RoleAdmin},
	{ID: "2", Name: "Maria Manager", Email: "manager@conserv-service.com", Role: models.RoleManager, Phone: "+7 900 000-00-02"},
	{ID: "3", Name: "Ivan Client", Email: "client@conserv-service.com", Role: models.RoleClient, Address: "Moscow, Tverskaya 1"},
	{ID: "4", Name: "Petr Contractor", Email: "contractor@conserv-service.com", Role: models.RoleContractor},
}

var orderTemplates = []struct {
	title    string
	category string
	urgency  models.Urgency
	status   models.OrderStatus
}{
	{"Fix leaking kitchen tap", "plumbing", models.UrgencyHigh, models.OrderStatusPending},
	{"Replace bathroom pipes", "plumbing", models.UrgencyMedium, models.OrderStatusInProgress},
	{"Install ceiling lights", "electrical", models.UrgencyLow, models.OrderStatusPending},
	{"Rewire the garage", "electrical", models.UrgencyHigh, models.OrderStatusInProgress},
	{"Repair wardrobe door", "repair", models.UrgencyLow, models.OrderStatusCompleted},
	{"Patch living room wall", "repair", models.UrgencyMedium, models.OrderStatusPending},
	{"Deep clean after renovation", "cleaning", models.UrgencyMedium, models.OrderStatusPending},
	{"Weekly office cleaning", "cleaning", models.UrgencyLow, models.OrderStatusCancelled},
	{"Deliver building materials", "delivery", models.UrgencyHigh, models.OrderStatusInProgress},
	{"Move furniture to storage", "delivery", models.UrgencyMedium, models.OrderStatusPending},
	{"Unclog shower drain", "plumbing", models.UrgencyHigh, models.OrderStatusPending},
	{"Replace socket outlets", "electrical", models.UrgencyMedium, models.OrderStatusCompleted},
}

// Orders returns freshly seeded orders, newest first.
func Orders(now time.Time) []models.Order {
	client := Users[2]
	contractor := Users[3]

	out := make([]models.Order, len(orderTemplates))
	for i, tpl := range orderTemplates {
		budget := float64(1500 + 500*i)
		o := models.Order{
			ID:          fmt.Sprintf("order-%02d", i+1),
			Title:       tpl.title,
			Description: tpl.title + " at the client's address",
			Status:      tpl.status,
			Urgency:     tpl.urgency,
			Category:    tpl.category,
			Client:      client,
			Budget:      &budget,
			Location:    client.Address,
			CreatedAt:   now.Add(-time.Duration(i) * time.Hour),
		}
		if tpl.status != models.OrderStatusPending {
			c := contractor
			o.Contractor = &c
		}
		out[i] = o
	}
	return out
}
