package events

const (
	FilingStatusChanged    = "filing.status_changed"
	FilingLocked           = "filing.locked"
	FilingUnlocked         = "filing.unlocked"
	FilingAmendmentStarted = "filing.amendment_started"
	ClientCreated          = "client.created"
	ClientUpdated          = "client.updated"
	InvoiceCreated         = "invoice.created"
	InvoicePaid            = "invoice.paid"
	PaymentReceived        = "payment.received"
	DocumentUploaded       = "document.uploaded"
)

// Known reports whether eventType belongs to the published vocabulary.
func Known(eventType string) bool {
	switch eventType {
	case FilingStatusChanged, FilingLocked, FilingUnlocked, FilingAmendmentStarted,
		ClientCreated, ClientUpdated, InvoiceCreated, InvoicePaid, PaymentReceived, DocumentUploaded:
		return true
	}
	return false
}

// Types lists every publishable event type.
func Types() []string {
	return []string{
		FilingStatusChanged, FilingLocked, FilingUnlocked, FilingAmendmentStarted,
		ClientCreated, ClientUpdated, InvoiceCreated, InvoicePaid, PaymentReceived, DocumentUploaded,
	}
}

const JobDispatchEvent = "dispatch_event"

// DispatchJob is the payload of a dispatch_event job.
type DispatchJob struct {
	EventID string `json:"event_id"`
}
