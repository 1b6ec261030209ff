// Package webhooks delivers subscription lifecycle notifications to HTTP
// endpoints.
//
// # Overview
//
// Dispatcher implements notify.Dispatcher. Each notification is wrapped in
// a Payload, signed with the endpoint secret and POSTed to every endpoint
// subscribed to its type.
//
// # Headers
//
//	X-Creditgate-Event:     expiry_warning_7
//	X-Creditgate-Delivery:  3f0e1c52-...
//	X-Creditgate-Signature: sha256=<hex hmac of body>
//
// Verify signature (receiver side):
//
//	sig := r.Header.Get("X-Creditgate-Signature")
//	if !webhooks.VerifySignature(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Retry Policy
//
// Network errors, 429 and 5xx responses are retried with exponential
// backoff (500ms, 1s, up to 3 attempts by default). Other 4xx responses
// fail immediately. A per-endpoint token bucket caps the delivery rate.
package webhooks
