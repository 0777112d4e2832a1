package kube

import (
	apiv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

// Images used for emulated nodes.
const (
	// ImageHost carries iproute2, iperf, ping and tcpdump.
	ImageHost = "ghcr.io/idlab-discover/sdnscen/host:1.0.0"
	// ImageSwitch carries Open vSwitch.
	ImageSwitch = "ghcr.io/idlab-discover/sdnscen/ovs:1.0.0"
)

const (
	ContainerName = "node"

	// LabelNetwork holds the handle of the network a pod belongs to.
	LabelNetwork = "sdnscen-network"
	// LabelNode holds the topology node id.
	LabelNode = "sdnscen-node"
	// LabelRole holds the topology role of the node.
	LabelRole = "sdnscen-role"

	DefaultImagePullPolicy = "IfNotPresent"
	DefaultIdleCommand     = "tail -f /dev/null"
	// SwitchStartCommand starts ovsdb-server and ovs-vswitchd without the kernel module
	// check, then idles.
	SwitchStartCommand = "/usr/share/openvswitch/scripts/ovs-ctl start --system-id=random --no-monitor && " + DefaultIdleCommand
	CapabilityNetAdmin = "NET_ADMIN"
)

// PodOptions sizes and images node pods.
type PodOptions struct {
	HostImage   string `yaml:"hostImage"`
	SwitchImage string `yaml:"switchImage"`
	CPURequest  string `yaml:"cpuRequest"`
	MemRequest  string `yaml:"memRequest"`
	CPULimit    string `yaml:"cpuLimit,omitempty"`
	MemLimit    string `yaml:"memLimit,omitempty"`
}

func (o PodOptions) withDefaults() PodOptions {
	if o.HostImage == "" {
		o.HostImage = ImageHost
	}
	if o.SwitchImage == "" {
		o.SwitchImage = ImageSwitch
	}
	if o.CPURequest == "" {
		o.CPURequest = "100m"
	}
	if o.MemRequest == "" {
		o.MemRequest = "128Mi"
	}
	return o
}

// PodName is the pod that emulates node within network handle.
func PodName(handle, node string) string {
	return emulation.CleanName(handle + "-" + node)
}

// BuildNodePod returns the pod definition for one topology node. Switch pods run privileged
// because ovs-vswitchd manages datapaths; host pods only need NET_ADMIN.
func BuildNodePod(handle string, node topology.Node, opts PodOptions) *apiv1.Pod {
	opts = opts.withDefaults()
	resources := apiv1.ResourceRequirements{
		Requests: apiv1.ResourceList{
			apiv1.ResourceCPU:    resource.MustParse(opts.CPURequest),
			apiv1.ResourceMemory: resource.MustParse(opts.MemRequest),
		},
	}
	if opts.CPULimit != "" || opts.MemLimit != "" {
		resources.Limits = apiv1.ResourceList{}
		if opts.CPULimit != "" {
			resources.Limits[apiv1.ResourceCPU] = resource.MustParse(opts.CPULimit)
		}
		if opts.MemLimit != "" {
			resources.Limits[apiv1.ResourceMemory] = resource.MustParse(opts.MemLimit)
		}
	}

	image, command := opts.HostImage, DefaultIdleCommand
	security := &apiv1.SecurityContext{
		Capabilities: &apiv1.Capabilities{Add: []apiv1.Capability{CapabilityNetAdmin}},
	}
	if !node.IsHost() {
		privileged := true
		image, command = opts.SwitchImage, SwitchStartCommand
		security.Privileged = &privileged
	}

	return &apiv1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: PodName(handle, node.ID),
			Labels: map[string]string{
				LabelNetwork: handle,
				LabelNode:    node.ID,
				LabelRole:    string(node.Role),
			},
		},
		Spec: apiv1.PodSpec{
			RestartPolicy: apiv1.RestartPolicyNever,
			Containers: []apiv1.Container{
				{
					Name:            ContainerName,
					Image:           image,
					ImagePullPolicy: DefaultImagePullPolicy,
					Command:         []string{"sh", "-c", command},
					SecurityContext: security,
					Resources:       resources,
				},
			},
		},
	}
}
