package delivery

import "slices"

// Application event types that can be dispatched to endpoints
const (
	EventEmailSent         = "email.sent"
	EventEmailOpened       = "email.opened"
	EventEmailClicked      = "email.clicked"
	EventEmailBounced      = "email.bounced"
	EventReplyReceived     = "reply.received"
	EventReplyInterested   = "reply.interested"
	EventReplyClassified   = "reply.classified"
	EventLeadBounced       = "lead.bounced"
	EventLeadUnsubscribed  = "lead.unsubscribed"
	EventCampaignStarted   = "campaign.started"
	EventCampaignCompleted = "campaign.completed"
	EventCampaignPaused    = "campaign.paused"
	EventInboxPaused       = "inbox.paused"
	EventInboxError        = "inbox.error"
)

// EventTypes lists every known event type, grouped by source
var EventTypes = []string{
	EventEmailSent, EventEmailOpened, EventEmailClicked, EventEmailBounced,
	EventReplyReceived, EventReplyInterested, EventReplyClassified,
	EventLeadBounced, EventLeadUnsubscribed,
	EventCampaignStarted, EventCampaignCompleted, EventCampaignPaused,
	EventInboxPaused, EventInboxError,
}

// KnownEvent reports whether eventType is one the application emits.
// Dispatch does not require it; the ingest API and CLI use it to warn early.
func KnownEvent(eventType string) bool {
	return slices.Contains(EventTypes, eventType)
}
