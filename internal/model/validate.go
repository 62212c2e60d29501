package model

import "github.com/dhima/cronback-scheduler/internal/core"

const (
	minTimeout    = 1
	maxTimeout    = 30
	maxHeaders    = 30
	maxBodyBytes  = 1 << 20 // 1 MiB
	maxTimepoints = 5000
)

var validMethods = map[HTTPMethod]struct{}{
	MethodGET: {}, MethodPOST: {}, MethodPUT: {},
	MethodDELETE: {}, MethodPATCH: {}, MethodHEAD: {},
}

// ValidateAction checks the webhook invariants: a recognized HTTP
// method and a timeout in [1.0, 30.0] seconds.
func ValidateAction(a Action) error {
	if a.Kind != ActionWebhook {
		return core.InvalidArgument("unsupported action kind %q", a.Kind)
	}
	if _, ok := validMethods[a.Method]; !ok {
		return core.InvalidArgument("unsupported http method %q", a.Method)
	}
	seconds := a.Timeout.Seconds()
	if seconds < minTimeout || seconds > maxTimeout {
		return core.InvalidArgument("timeout_s must be between 1.0 and 30.0, got %.3f", seconds)
	}
	return nil
}

// ValidatePayload checks the header-count and body-size bounds. A nil
// payload is always valid (it's optional).
func ValidatePayload(p *Payload) error {
	if p == nil {
		return nil
	}
	if len(p.Headers) > maxHeaders {
		return core.InvalidArgument("payload may carry at most %d headers, got %d", maxHeaders, len(p.Headers))
	}
	if len(p.Body) > maxBodyBytes {
		return core.InvalidArgument("payload body may be at most 1 MiB, got %d bytes", len(p.Body))
	}
	return nil
}
