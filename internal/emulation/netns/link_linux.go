//go:build linux

package netns

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/idlab-discover/sdnscen/internal/topology"
)

// addNamespace creates a named namespace without leaving the calling thread inside it.
func addNamespace(name string) error {
	runtime.LockOSThread()
	orig, err := netns.Get()
	if err != nil {
		runtime.UnlockOSThread()
		return err
	}
	defer orig.Close()
	ns, err := netns.NewNamed(name)
	if err == nil {
		ns.Close()
	}
	if setErr := netns.Set(orig); setErr != nil {
		// The thread is stuck in the new namespace; leave it locked so the runtime discards it.
		return fmt.Errorf("restoring namespace: %w", setErr)
	}
	runtime.UnlockOSThread()
	if err != nil {
		return err
	}

	h, err := handleFor(name)
	if err != nil {
		return err
	}
	defer h.Close()
	lo, err := h.LinkByName("lo")
	if err != nil {
		return err
	}
	return h.LinkSetUp(lo)
}

func delNamespace(name string) error {
	err := netns.DeleteNamed(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func handleFor(name string) (*netlink.Handle, error) {
	ns, err := netns.GetFromName(name)
	if err != nil {
		return nil, fmt.Errorf("opening namespace %s: %w", name, err)
	}
	defer ns.Close()
	return netlink.NewHandleAt(ns)
}

func addVeth(l topology.Link) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: l.IfaceA()},
		PeerName:  l.IfaceB(),
	}
	return netlink.LinkAdd(veth)
}

func delLink(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return netlink.LinkDel(link)
}

// attachHost moves iface into the namespace of host and configures it. The host address goes
// on its first interface and on every interface pinned to the host MAC, so the host keeps its
// identity on whichever of its links stays up.
func attachHost(host topology.Node, iface string, port int, mac string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return err
	}
	ns, err := netns.GetFromName(host.ID)
	if err != nil {
		return err
	}
	defer ns.Close()
	if err := netlink.LinkSetNsFd(link, int(ns)); err != nil {
		return err
	}

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		return err
	}
	defer h.Close()
	link, err = h.LinkByName(iface)
	if err != nil {
		return err
	}
	if mac != "" {
		hw, err := net.ParseMAC(mac)
		if err != nil {
			return err
		}
		if err := h.LinkSetHardwareAddr(link, hw); err != nil {
			return err
		}
	}
	if carriesAddress(host, port, mac) {
		addr, err := netlink.ParseAddr(host.IPv4)
		if err != nil {
			return err
		}
		if err := h.AddrAdd(link, addr); err != nil {
			return err
		}
	}
	return nil
}

func setLinkState(node topology.Node, iface string, up bool) error {
	h := &netlink.Handle{}
	if node.IsHost() {
		var err error
		h, err = handleFor(node.ID)
		if err != nil {
			return err
		}
		defer h.Close()
	}
	link, err := h.LinkByName(iface)
	if err != nil {
		return err
	}
	if up {
		return h.LinkSetUp(link)
	}
	return h.LinkSetDown(link)
}
