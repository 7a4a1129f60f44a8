package handlers

// Property keys reserved by tagflow. Custom properties should not reuse them.
const (
	// PropertyCorrelationID tracks related messages across services.
	PropertyCorrelationID = "correlation_id"

	// PropertyTraceID stores the distributed tracing ID.
	PropertyTraceID = "trace_id"

	// PropertySpanID stores the distributed tracing span ID.
	PropertySpanID = "span_id"
)
