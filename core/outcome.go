package core

// Status is the terminal state of a gateway operation.
type Status string

const (
	StatusOK          Status = "ok"
	StatusFailed      Status = "failed"
	StatusUnsupported Status = "unsupported"
	StatusTimeout     Status = "timeout"
	StatusCanceled    Status = "canceled"
	// StatusTabular marks an upload that was routed to the tabular agent
	// instead of the document pipeline.
	StatusTabular Status = "tabular"
)

// Outcome is the explicit result of an operation. Err carries the underlying
// cause for logging; Message is safe to show to the end user.
type Outcome struct {
	Status  Status
	Kind    Kind
	Message string
	Err     error
}

// OK reports whether the operation completed without failure.
func (o Outcome) OK() bool {
	return o.Status == StatusOK || o.Status == StatusTabular
}

// Succeeded builds a successful outcome.
func Succeeded(message string) Outcome {
	return Outcome{Status: StatusOK, Message: message}
}

// Failed builds a failed outcome whose status follows the error kind.
func Failed(message string, err error) Outcome {
	kind := KindOf(err)
	status := StatusFailed
	switch kind {
	case KindUnsupported:
		status = StatusUnsupported
	case KindTimeout:
		status = StatusTimeout
	}
	return Outcome{Status: status, Kind: kind, Message: message, Err: err}
}
