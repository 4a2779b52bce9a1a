// Package api provides the HTTP REST API for the doggy door service.
//
// It exposes the combined system status, the event journal, and manual
// lock overrides to the local network. Authentication is a single
// static bearer token; leaving the token empty disables auth, which is
// only sensible on a trusted LAN.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
