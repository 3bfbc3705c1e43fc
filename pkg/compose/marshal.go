package compose

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stackd/stackd/pkg/types"
)

// Marshal serializes a topology back to Compose YAML. The output preserves
// every declared field and the declaration order of services and volumes,
// so Parse(Marshal(topo)) yields an equivalent topology.
func Marshal(topo *types.Topology) ([]byte, error) {
	root := mappingNode()

	services := mappingNode()
	for _, svc := range topo.Services {
		appendPair(services, svc.Name, serviceNode(svc))
	}
	appendPair(root, "services", services)

	if len(topo.Volumes) > 0 {
		volumes := mappingNode()
		for _, vol := range topo.Volumes {
			appendPair(volumes, vol.Name, volumeNode(vol))
		}
		appendPair(root, "volumes", volumes)
	}

	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize topology: %w", err)
	}
	return out, nil
}

func serviceNode(svc *types.Service) *yaml.Node {
	node := mappingNode()

	if svc.Image != "" {
		appendPair(node, "image", scalarNode(svc.Image))
	}
	if len(svc.DependsOn) > 0 {
		appendPair(node, "depends_on", stringSeqNode(svc.DependsOn))
	}
	if len(svc.Ports) > 0 {
		ports := seqNode()
		for _, p := range svc.Ports {
			ports.Content = append(ports.Content, scalarNode(portString(p)))
		}
		appendPair(node, "ports", ports)
	}
	if len(svc.Environment) > 0 {
		env := mappingNode()
		for _, k := range sortedKeys(svc.Environment) {
			appendPair(env, k, scalarNode(svc.Environment[k]))
		}
		appendPair(node, "environment", env)
	}
	if len(svc.Mounts) > 0 {
		mounts := seqNode()
		for _, m := range svc.Mounts {
			mounts.Content = append(mounts.Content, scalarNode(mountString(m)))
		}
		appendPair(node, "volumes", mounts)
	}
	if len(svc.Labels) > 0 {
		labels := mappingNode()
		for _, k := range sortedKeys(svc.Labels) {
			appendPair(labels, k, scalarNode(svc.Labels[k]))
		}
		appendPair(node, "labels", labels)
	}
	if len(svc.Command) > 0 {
		appendPair(node, extCommand, stringSeqNode(svc.Command))
	}
	if svc.Readiness != nil {
		appendPair(node, extReadiness, readinessNode(svc.Readiness))
	}
	return node
}

func readinessNode(spec *types.ReadinessSpec) *yaml.Node {
	node := mappingNode()
	appendPair(node, "type", scalarNode(string(spec.Type)))
	if spec.Target != "" {
		appendPair(node, "target", scalarNode(spec.Target))
	}
	if spec.Timeout > 0 {
		appendPair(node, "timeout", scalarNode(spec.Timeout.String()))
	}
	if spec.Interval > 0 {
		appendPair(node, "interval", scalarNode(spec.Interval.String()))
	}
	return node
}

func volumeNode(vol *types.Volume) *yaml.Node {
	node := mappingNode()
	if vol.Driver != "" {
		appendPair(node, "driver", scalarNode(vol.Driver))
	}
	if len(vol.Labels) > 0 {
		labels := mappingNode()
		for _, k := range sortedKeys(vol.Labels) {
			appendPair(labels, k, scalarNode(vol.Labels[k]))
		}
		appendPair(node, "labels", labels)
	}
	if len(vol.InitScripts) > 0 {
		scripts := seqNode()
		for _, script := range vol.InitScripts {
			entry := mappingNode()
			appendPair(entry, "name", scalarNode(script.Name))
			appendPair(entry, "command", stringSeqNode(script.Command))
			scripts.Content = append(scripts.Content, entry)
		}
		appendPair(node, extInitScripts, scripts)
	}
	return node
}

func portString(p *types.PortMapping) string {
	var b strings.Builder
	if p.HostIP != "" {
		b.WriteString(p.HostIP)
		b.WriteString(":")
	}
	if p.Published > 0 {
		fmt.Fprintf(&b, "%d:", p.Published)
	}
	fmt.Fprintf(&b, "%d", p.Target)
	if p.Protocol != "" && p.Protocol != "tcp" {
		b.WriteString("/")
		b.WriteString(p.Protocol)
	}
	return b.String()
}

func mountString(m *types.VolumeMount) string {
	s := m.Source + ":" + m.Target
	if m.ReadOnly {
		s += ":ro"
	}
	return s
}

// yaml.Node construction helpers. Maps marshal in unspecified order, so the
// document is built as explicit nodes to keep declaration order stable.

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func seqNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func stringSeqNode(values []string) *yaml.Node {
	node := seqNode()
	for _, v := range values {
		node.Content = append(node.Content, scalarNode(v))
	}
	return node
}

func appendPair(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, scalarNode(key), value)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
