// Package route holds the per-route pricing and backend-forwarding
// configuration the gateway protects.
package route

// CreditPolicy controls when a backend failure is compensated with a credit
// rather than leaving the payer to re-settle on-chain.
type CreditPolicy struct {
	CreditOnStatusCodes map[int]bool
	MaxCreditsPerPayer  int64
	CreditTTLSeconds    int64
}

// DefaultCreditPolicy is the credit policy a route gets when it declares none.
func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{
		CreditOnStatusCodes: map[int]bool{500: true, 502: true, 503: true, 504: true},
		MaxCreditsPerPayer:  10,
		CreditTTLSeconds:    86400,
	}
}

// Descriptor is one protected route: what it costs, where it forwards, and
// how backend failures are compensated.
type Descriptor struct {
	RouteKey        string
	BackendBaseURL  string
	BackendKeyRef   string // config key holding the internal credential
	BackendKeyHeader string
	PriceAtomic     int64 // 6-decimal atomic units
	DisplayPrice    string
	PayToEVM        string
	PayToSVM        string
	Description     string
	MimeType        string
	CreditPolicy    CreditPolicy
}

// WithDefaults fills in a zero-value CreditPolicy with DefaultCreditPolicy.
func (d Descriptor) WithDefaults() Descriptor {
	if d.CreditPolicy.MaxCreditsPerPayer == 0 && d.CreditPolicy.CreditTTLSeconds == 0 && len(d.CreditPolicy.CreditOnStatusCodes) == 0 {
		d.CreditPolicy = DefaultCreditPolicy()
	}
	return d
}
