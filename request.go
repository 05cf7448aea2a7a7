package goBankAuth

import (
	"net/http"
	"net/url"
)

const pathLogout = "identification/logout"

// Request is one call against the versioned API root. Path is relative
// ("engagement/overview"). Body is sent as JSON: []byte, json.RawMessage
// and string are sent verbatim, anything else is marshalled. A nil Body
// sends no body and no Content-Type.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Query  url.Values
	Body   any
}

// Get builds a GET request.
func Get(path string, query url.Values) Request {
	return Request{Method: http.MethodGet, Path: path, Query: query}
}

// Post builds a POST request with an optional JSON body.
func Post(path string, body any) Request {
	return Request{Method: http.MethodPost, Path: path, Body: body}
}

// Put builds a body-less PUT request.
func Put(path string) Request {
	return Request{Method: http.MethodPut, Path: path}
}

// Delete builds a DELETE request.
func Delete(path string) Request {
	return Request{Method: http.MethodDelete, Path: path}
}

func logoutRequest() Request {
	return Put(pathLogout)
}
