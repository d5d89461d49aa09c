package errx

import (
	"net/http"
)

const (
	// UpstreamErrorMessage describes failures contacting the generation service.
	UpstreamErrorMessage = "generation service request failed"
	// UpstreamShapeMessage describes a malformed response from the generation service.
	UpstreamShapeMessage = "unexpected generation service response"
)

// WrapUpstream marks a transient failure contacting the generation service
// (uploads, cache calls, streamed generation). The core never retries these;
// the caller may retry the whole operation.
func WrapUpstream(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, UpstreamErrorMessage)
}

// WrapUpstreamShape marks a malformed or unexpected response shape from the
// generation service that occurred outside per-part processing.
func WrapUpstreamShape(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, UpstreamShapeMessage)
}
