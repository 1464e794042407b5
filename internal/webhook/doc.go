// Package webhook is the HTTP intake for snapshot lifecycle notifications.
//
// A relay (an SNS HTTPS subscription behind a signing proxy, or a test
// harness) posts SNS envelopes to a single endpoint. The endpoint is
// protected by an HMAC-SHA256 signature over the raw body.
//
// # Security Model
//
// - Signatures are compared in constant time (crypto/subtle)
// - Body size is capped before anything is decoded
// - Verification failures always answer a generic 403
// - Request logs never include the body
//
// # Configuration
//
//	webhook:
//	  listen: "127.0.0.1:8080"
//	  path: /sns
//	  secret: ${SNAPEXP_WEBHOOK_SECRET}
//	  signature_header: X-Snapexp-Signature
//	  max_body_size: 262144
//
// # Request Flow
//
// 1. Read the body up to max_body_size (413 beyond it)
// 2. Verify the signature header (403 on mismatch)
// 3. Decode the SNS envelope (400 when malformed)
// 4. Subscription confirmations are logged and acknowledged with 200
// 5. Notifications are submitted; a started export answers 202 with the
// job id, an ignored or duplicate one answers 200 with the reason
//
// Export jobs keep running after the response is written.
package webhook
