package types

const (
	HeaderRequestID = "X-Request-ID"
	// HeaderUserID names the staff member acting on a request. Set by the gateway in front of the service.
	HeaderUserID = "X-User-ID"
)
