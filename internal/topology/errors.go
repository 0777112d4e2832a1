package topology

import "errors"

var (
	// ErrInvalidParameter is returned for bad or missing topology parameters. No partial
	// graph is returned alongside it.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUnknownTopology is returned by the catalog for unregistered names.
	ErrUnknownTopology = errors.New("unknown topology")
	// ErrDisconnectedGraph is returned when an ad hoc graph has unreachable nodes.
	ErrDisconnectedGraph = errors.New("disconnected graph")
)
