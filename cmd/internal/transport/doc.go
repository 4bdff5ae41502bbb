// Package transport is the request dispatcher: it turns a Descriptor into one
// HTTP exchange and reports the outcome as a Response or a typed error.
//
// It performs no retries and interprets no status codes beyond 2xx versus
// everything else. Renewal and replay live one layer up (package renewal),
// which is what keeps them testable without a network.
package transport
