package rpc

import (
	"errors"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/resilient/internal/resilience/classify"
)

// Classifier recognises JSON-RPC and gRPC failures on top of the default rules.
func Classifier() classify.Classifier {
	return classifier
}

var classifier = classify.New(classify.Transient,
	append([]classify.Rule{classify.MarkerRule, GRPCRule, JSONRPCRule}, classify.DefaultRules()...)...,
)

// JSONRPCRule classifies typed JSON-RPC and HTTP status errors. Malformed
// requests are permanent, server side errors are transient.
func JSONRPCRule(err error) (classify.Class, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams:
			return classify.Permanent, true
		default:
			return classify.Transient, true
		}
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests,
			httpErr.StatusCode == http.StatusRequestTimeout,
			httpErr.StatusCode >= 500:
			return classify.Transient, true
		case httpErr.StatusCode >= 400:
			return classify.Permanent, true
		}
	}
	return classify.Transient, false
}

// GRPCRule classifies gRPC status errors by code. RetryInfo details mark an
// error transient and BadRequest details mark it permanent regardless of code.
func GRPCRule(err error) (classify.Class, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return classify.Transient, false
	}

	for _, d := range st.Details() {
		switch d.(type) {
		case *errdetails.RetryInfo:
			return classify.Transient, true
		case *errdetails.BadRequest:
			return classify.Permanent, true
		}
	}

	switch st.Code() {
	case codes.Unavailable,
		codes.DeadlineExceeded,
		codes.ResourceExhausted,
		codes.Aborted,
		codes.Internal,
		codes.Unknown:
		return classify.Transient, true
	default:
		return classify.Permanent, true
	}
}
