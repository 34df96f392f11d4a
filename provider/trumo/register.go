package trumo

import "github.com/mobinc/pnpbridge/provider"

// Register Trumo provider with the bridge registry
func init() {
	provider.Register("trumo", NewProvider)
}
