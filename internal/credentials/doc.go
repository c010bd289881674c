// Package credentials holds the device and gateway credentials that
// endpoints share.
//
// A Node is a named set of platform credentials. Endpoints refer to a node by
// name; the node turns itself into a connpool.Config for the mode the
// endpoint needs, and that config determines which shared connection the
// endpoint joins.
//
// When a node is torn down its connections are destroyed outright, whether
// or not endpoints still hold them:
//
//	node := &credentials.Node{Name: "plant", Org: "abc123", DeviceType: "gw", DeviceID: "gw-1", AuthToken: tok}
//	if err := node.Validate(); err != nil {
//	    return err
//	}
//	...
//	node.Close(reg)
package credentials
