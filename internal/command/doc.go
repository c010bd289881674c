// Package command routes inbound platform commands to endpoints.
//
// A Router is one inbound endpoint. It joins the shared connection for its
// credentials, narrows the connection's command stream with a Filter, and
// hands every matching command to its Sink as a Result.
//
// # Scopes
//
// A device-scoped router receives the commands addressed to the device
// itself; its filter matches on command name only. A gateway-scoped router
// subscribes on behalf of devices behind the gateway, either the gateway's
// own type and ID (TargetAll) or an explicit device (TargetDevice), and
// removes that subscription when closed.
//
// # Filters
//
// Each filter field is either a literal or the wildcard "+", which matches
// any value. "*" is accepted as an alias and sent to the broker as "+".
//
// # Usage
//
//	r, err := command.NewRouter(reg, command.RouterConfig{
//	    Name:        "reset-listener",
//	    UserID:      id,
//	    Credentials: node,
//	    Scope:       command.ScopeGateway,
//	    Target:      command.TargetAll,
//	    Command:     "reset",
//	}, func(res command.Result) {
//	    log.Info("command", "name", res.Command, "device", res.DeviceID)
//	})
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
package command
