package dto

// WebhookChange is one changed field reported by the ticket system. NewValue
// is a string for scalar fields and an object for assignee.
type WebhookChange struct {
	Field    string `json:"field"`
	NewValue any    `json:"newValue"`
}

// TicketWebhookRequest is the inbound webhook payload.
type TicketWebhookRequest struct {
	TicketKey string          `json:"ticketKey"`
	Changes   []WebhookChange `json:"changes"`
}

// TicketWebhookResponse acknowledges a webhook.
type TicketWebhookResponse struct {
	Applied bool `json:"applied"`
}
