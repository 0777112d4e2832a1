//go:build !linux

package netns

import (
	"errors"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

var errUnsupported = emulation.Unavailable("netns", errors.New("network namespaces require linux"))

func addNamespace(string) error { return errUnsupported }
func delNamespace(string) error { return nil }
func addVeth(topology.Link) error { return errUnsupported }
func delLink(string) error { return nil }
func attachHost(topology.Node, string, int, string) error { return errUnsupported }
func setLinkState(topology.Node, string, bool) error { return errUnsupported }
