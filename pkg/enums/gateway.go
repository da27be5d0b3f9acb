package enums

import (
	"fmt"
	"strings"
)

// Gateway names the payment processor behind an attempt or event.
type Gateway string

const (
	GatewayStripe Gateway = "stripe"
	GatewaySquare Gateway = "square"
	GatewayCash   Gateway = "cash"
)

var validGateways = []Gateway{GatewayStripe, GatewaySquare, GatewayCash}

// String implements fmt.Stringer.
func (g Gateway) String() string {
	return string(g)
}

// IsValid reports whether the value is a known Gateway.
func (g Gateway) IsValid() bool {
	for _, candidate := range validGateways {
		if candidate == g {
			return true
		}
	}
	return false
}

// IsOnline reports whether the gateway settles through an external processor.
func (g Gateway) IsOnline() bool {
	return g == GatewayStripe || g == GatewaySquare
}

// ParseGateway converts raw input into a Gateway, ignoring case and whitespace.
func ParseGateway(value string) (Gateway, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validGateways {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway %q", value)
}
