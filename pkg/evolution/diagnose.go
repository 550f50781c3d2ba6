package evolution

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Problem categories used to explain gateway failures to the operator.
const (
	ProblemHTMLResponse     = "html_response"
	ProblemEndpointNotFound = "endpoint_not_found"
	ProblemAuth             = "auth_error"
	ProblemCORS             = "cors_error"
	ProblemNetwork          = "network_error"
	ProblemServer           = "server_error"
	ProblemUnknown          = "unknown"
)

type Diagnosis struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
	Severity string `json:"severity"`
}

var diagnoses = map[string]Diagnosis{
	ProblemHTMLResponse: {ProblemHTMLResponse, "The API answered with HTML instead of JSON. Check the base URL and API key, and whether a proxy or CDN is serving an error page.", "high"},
	ProblemEndpointNotFound: {ProblemEndpointNotFound, "Endpoint not found. Check the base URL, that the endpoint exists in the API documentation and that the API version is current.", "high"},
	ProblemAuth:    {ProblemAuth, "Authentication failed. Check that the API key is correct, has the required permissions and has not expired.", "high"},
	ProblemCORS:    {ProblemCORS, "CORS rejected the request. Allow this origin on the API server or route calls through a proxy.", "medium"},
	ProblemNetwork: {ProblemNetwork, "Network problem. Check connectivity, raise the request timeout or confirm the server is online.", "medium"},
	ProblemServer:  {ProblemServer, "Internal server error on the API. Retry in a few minutes or check the server logs.", "low"},
	ProblemUnknown: {ProblemUnknown, "Unknown error.", "medium"},
}

// Diagnose classifies err. Checks run in a fixed order: HTML body, 404,
// 401/403, CORS, timeout or network, 5xx.
func Diagnose(err error) *Diagnosis {
	if err == nil {
		return nil
	}
	d := diagnoses[classify(err)]
	return &d
}

func classify(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTML:
			return ProblemHTMLResponse
		case apiErr.Status == http.StatusNotFound:
			return ProblemEndpointNotFound
		case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
			return ProblemAuth
		case apiErr.Status >= http.StatusInternalServerError:
			return ProblemServer
		}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ProblemNetwork
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "<!doctype") || strings.Contains(lower, "<html>"):
		return ProblemHTMLResponse
	case strings.Contains(msg, "404"):
		return ProblemEndpointNotFound
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return ProblemAuth
	case strings.Contains(msg, "CORS"):
		return ProblemCORS
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "network") ||
		strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return ProblemNetwork
	case strings.Contains(msg, "500"):
		return ProblemServer
	}
	return ProblemUnknown
}
