// Package apperr defines the structured error taxonomy shared by the ledger,
// subscription, and scheduler packages.
//
// # Overview
//
// Every business rejection is an *Error carrying a Code, an English message,
// a localized message, and optional context fields. Errors cross the HTTP
// boundary as JSON objects:
//
//	{"code": "INSUFFICIENT_CREDITS", "message": "...", "messageLocalized": "...",
//	 "available": 3, "required": 5}
//
// # Usage
//
//	return apperr.New(apperr.CodeInsufficientCredits).
//		With("available", available).
//		With("required", cost)
//
// Callers branch on the code:
//
//	if apperr.Is(err, apperr.CodeSubscriptionGracePeriod) {
//		// degrade to read-only
//	}
//
// Infrastructure failures (database, network) are plain wrapped errors and
// report an empty code.
package apperr
