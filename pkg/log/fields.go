package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Relay
	FieldConnectionID = "connection_id"
	FieldRoomID       = "room_id"
	FieldTransport    = "transport"
	FieldKind         = "kind"
	FieldChannel      = "channel"
	FieldInstanceID   = "instance_id"

	// Service
	FieldService = "service"
)
