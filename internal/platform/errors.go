package platform

import "fmt"

// AuthError wraps a failed client-credentials token exchange. It is fatal to
// the in-flight call; recovery happens through natural re-invocation.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RemoteAPIError is returned when the platform responds with a non-success
// HTTP status.
type RemoteAPIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote api %s returned status %d", e.Endpoint, e.StatusCode)
}

// ExportTimeoutError is returned when the export poll loop exhausts its
// attempt budget without the export becoming ready.
type ExportTimeoutError struct {
	QueryID  string
	Attempts int
}

func (e *ExportTimeoutError) Error() string {
	return fmt.Sprintf("export %s not ready after %d attempts", e.QueryID, e.Attempts)
}
