// Package gateway implements the per-request payment pipeline: decode the
// client's payment envelope, resolve idempotency/credit fast paths, verify,
// settle, and emit the receipt the framework layer attaches to its response.
// It has no net/http dependency — the HTTP binding is an external collaborator.
package gateway

import "context"

// Request is one protected-route invocation, already resolved to a route
// and stripped of framework-specific detail by the caller.
type Request struct {
	RouteKey string
	Resource string // public URL, used to populate a 402 challenge's "resource"

	// PaymentHeader is the raw value of the Payment-Signature or X-Payment
	// header, or "" if the client sent neither.
	PaymentHeader string

	// UntrustedPayerHeader is the raw X-x402-Payer header value, if any. It
	// is surfaced to callers purely as proxy-forwarding metadata; the
	// pipeline never reads it to derive or corroborate payer identity.
	UntrustedPayerHeader string
}

// Action classifies how the framework layer should respond to an Outcome.
type Action int

const (
	// ActionChallenge means: respond 402 with Body as the JSON body and
	// PaymentRequiredHeader as the PAYMENT-REQUIRED header value.
	ActionChallenge Action = iota
	// ActionReject means: respond with StatusCode (400) and Body.
	ActionReject
	// ActionProceed means: forward the request downstream. If ReceiptHeader
	// is set, attach it as PAYMENT-RESPONSE; if CreditConsumed is true,
	// attach X-x402-Credit: consumed instead.
	ActionProceed
)

// CreditHook is returned alongside a proceed Outcome that settled on-chain.
// The framework layer calls it once the downstream response status is known;
// issuance is best-effort and must never block the response.
type CreditHook func(ctx context.Context, backendStatus int)

// Outcome is the pipeline's verdict for one Request.
type Outcome struct {
	Action Action

	// Populated for ActionChallenge and ActionReject.
	StatusCode             int
	Body                   []byte
	PaymentRequiredHeader  string

	// Populated for ActionProceed.
	ReceiptHeader  string
	CreditConsumed bool
	CreditHook     CreditHook
}
