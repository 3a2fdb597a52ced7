// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, endpoint)
//	httputil.WriteCreated(w, endpoint)
//	httputil.WriteNotFoundError(w, "webhook endpoint not found")
//	httputil.WriteServiceUnavailable(w, "webhook service closed")
//
// Every error body has the shape {"error": "message"}.
//
// # Request Parsing
//
//	var req createWebhookRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
