// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import "net/http"

// A RequestAuthorizer determines if a request is authorized to be processed.
// Requests are authorized before any cache lookup takes place.
type RequestAuthorizer interface {
	// AuthorizeRequest returns an error if the request should not
	// be processed further (for example, it is for an image that is
	// not on the whitelist).
	AuthorizeRequest(req *http.Request) error
}

// RequestAuthorizerFunc adapts an ordinary function to a RequestAuthorizer.
type RequestAuthorizerFunc func(req *http.Request) error

// AuthorizeRequest calls f(req).
func (f RequestAuthorizerFunc) AuthorizeRequest(req *http.Request) error {
	return f(req)
}
