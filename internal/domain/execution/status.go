package execution

// Status is the coarse outcome of an execution. Every Result carries exactly one.
type Status string

const (
	StatusSuccess           Status = "success"
	StatusError             Status = "error"
	StatusTimeout           Status = "timeout"
	StatusSecurityViolation Status = "security_violation"
	StatusResourceExceeded  Status = "resource_exceeded"
)

// Kind refines a non-successful Status into the error taxonomy callers branch on.
type Kind string

const (
	KindNone              Kind = ""
	KindSyntaxError       Kind = "syntax_error"
	KindSecurityViolation Kind = "security_violation"
	KindTimeout           Kind = "timeout"
	KindResourceExceeded  Kind = "resource_exceeded"
	KindRuntimeError      Kind = "runtime_error"
	KindInternalError     Kind = "internal_error"
)

// StatusFor maps an error kind onto the status it is reported under.
func StatusFor(kind Kind) Status {
	switch kind {
	case KindNone:
		return StatusSuccess
	case KindSecurityViolation:
		return StatusSecurityViolation
	case KindTimeout:
		return StatusTimeout
	case KindResourceExceeded:
		return StatusResourceExceeded
	default:
		return StatusError
	}
}

// DefaultKind returns the kind implied by a status when a backend did not set one.
func DefaultKind(status Status) Kind {
	switch status {
	case StatusSuccess:
		return KindNone
	case StatusSecurityViolation:
		return KindSecurityViolation
	case StatusTimeout:
		return KindTimeout
	case StatusResourceExceeded:
		return KindResourceExceeded
	case StatusError:
		return KindRuntimeError
	default:
		return KindInternalError
	}
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusTimeout, StatusSecurityViolation, StatusResourceExceeded:
		return true
	}
	return false
}
