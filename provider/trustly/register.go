package trustly

import "github.com/mobinc/pnpbridge/provider"

// Register Trustly provider with the bridge registry
func init() {
	provider.Register("trustly", NewProvider)
}
