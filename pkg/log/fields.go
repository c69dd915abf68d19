package log

// Shared structured-log field names. Handlers and pipeline stages use these
// constants so log output stays queryable across components.
const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID       = "user_id"
	FieldConnectionID = "connection_id"

	// Chat domain
	FieldConversationID = "conversation_id"
	FieldMessageID      = "message_id"
	FieldRecipientID    = "recipient_id"

	// Broker
	FieldExchange   = "exchange"
	FieldRoutingKey = "routing_key"
	FieldQueue      = "queue"

	// Service
	FieldService = "service"
)
