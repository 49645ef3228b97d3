package redrive

const (
	ErrorCodeValidation         = "redrive.validation_failed"
	ErrorCodeHandler            = "redrive.handler_failed"
	ErrorCodeAttemptTimeout     = "redrive.attempt_timeout"
	ErrorCodeAttemptCanceled    = "redrive.attempt_canceled"
	ErrorCodeEmptyBatch         = "redrive.empty_batch"
	ErrorCodeBatchFailed        = "redrive.batch_failed"
	ErrorCodeTransientDelivery  = "redrive.transient_delivery"
	ErrorCodeFatalDelivery      = "redrive.fatal_delivery"
	ErrorCodeFatalConfiguration = "redrive.fatal_configuration"
)

const (
	errorMessageEmptyBatch     = "batch has no records"
	errorMessageAttemptTimeout = "attempt timed out"
	errorMessageAttemptStopped = "attempt canceled"
	errorMessageMissingField   = "missing field: "
	errorMessageMalformed      = "malformed record: "
)
