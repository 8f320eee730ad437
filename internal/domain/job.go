package domain

// SendJob is one queue message instructing the delivery worker to deliver
// to a single recipient. Content is denormalized into the job at dispatch
// time so the worker never re-fetches the campaign.
type SendJob struct {
	CampaignID  string  `json:"campaign_id"`
	RecipientID string  `json:"recipient_id"`
	Email       string  `json:"email"`
	VariantID   string  `json:"variant_id,omitempty"`
	Content     Content `json:"content"`
	Transport   string  `json:"transport,omitempty"`
}
