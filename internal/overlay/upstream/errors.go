package upstream

import "fmt"

// TransportError covers network, DNS, TLS, and timeout failures — anything
// that prevented a response from arriving at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError marks a response that arrived with a non-200 status code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: unexpected status %d", e.Code)
}

// ParseError marks a 200 response whose body was not valid JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("upstream: parse: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// APIError marks a well-formed JSON response carrying an explicit error
// indicator ("error" field or success:false).
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "upstream: api reported failure"
	}
	return fmt.Sprintf("upstream: api error: %s", e.Message)
}
