// Package httputil provides JSON request/response helpers and the HTTP
// middleware shared by the API server.
//
// # Responses
//
//	httputil.WriteSuccess(w, snapshot)
//	httputil.WriteCreated(w, payment)
//	httputil.WriteBadRequest(w, "credits must be an integer")
//
// Business errors are rendered by pkg/api, which maps apperr codes to
// status codes; this package only writes the generic {"error": ...} body.
//
// # Requests
//
//	var req DeductRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
