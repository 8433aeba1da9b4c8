package events

// Topic constants for domain events.
const (
	TopicBillCreated    = "bill.created"
	TopicBillDeleted    = "bill.deleted"
	TopicBundleRepriced = "bundle.repriced"
)

// DefaultTopics returns every topic the service emits.
func DefaultTopics() []string {
	return []string{TopicBillCreated, TopicBillDeleted, TopicBundleRepriced}
}
