package compose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/stackd/stackd/pkg/types"
)

// Extension fields understood on top of the standard Compose schema.
const (
	extCommand     = "x-command"      // service: local run command for the exec supervisor
	extReadiness   = "x-readiness"    // service: readiness probe configuration
	extInitScripts = "x-init-scripts" // volume: ordered one-time bootstrap scripts
)

// ParseFile reads a topology description from a Compose YAML file. The
// topology name defaults to the file's directory name.
func ParseFile(path string) (*types.Topology, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	name := filepath.Base(filepath.Dir(path))
	abs, err := filepath.Abs(path)
	if err == nil {
		name = filepath.Base(filepath.Dir(abs))
	}
	return Parse(content, name)
}

// Parse parses a Compose YAML document into a validated Topology.
//
// Interpolation is disabled so that ${service.host} style address
// references survive parsing verbatim; they are resolved at injection
// time, not parse time. All failures are reported as *types.ConfigError.
func Parse(content []byte, name string) (*types.Topology, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, types.NewConfigError("", "topology description is empty", types.ErrEmptyInput)
	}

	serviceOrder, volumeOrder, err := declarationOrder(content)
	if err != nil {
		return nil, err
	}

	project, err := loadProject(content, name)
	if err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, types.NewConfigError("services", "topology must define at least one service", types.ErrNoServices)
	}

	topo := &types.Topology{
		Name:     name,
		Services: make([]*types.Service, 0, len(project.Services)),
		Volumes:  make([]*types.Volume, 0, len(project.Volumes)),
	}

	for i, svcName := range serviceOrder {
		svc, ok := project.Services[svcName]
		if !ok {
			continue
		}
		converted, err := convertService(svc, i)
		if err != nil {
			return nil, err
		}
		topo.Services = append(topo.Services, converted)
	}

	for i, volName := range volumeOrder {
		vol, ok := project.Volumes[volName]
		if !ok {
			continue
		}
		converted, err := convertVolume(volName, vol, i)
		if err != nil {
			return nil, err
		}
		topo.Volumes = append(topo.Volumes, converted)
	}

	if err := Validate(topo); err != nil {
		return nil, err
	}
	return topo, nil
}

// loadProject loads the document with compose-go. Validation is skipped:
// the semantic checks that matter here (references, duplicates, cycles)
// have their own error taxonomy and run separately.
func loadProject(content []byte, name string) (*composetypes.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, types.NewConfigError("", "invalid YAML syntax", types.ErrInvalidYAML)
	}
	if dict == nil {
		return nil, types.NewConfigError("", "invalid YAML syntax", types.ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), composetypes.ConfigDetails{
		ConfigFiles: []composetypes.ConfigFile{
			{
				Content: content,
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName(name, false)
		opts.SkipValidation = true
		opts.SkipConsistencyCheck = true
		opts.SkipInterpolation = true
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, types.NewConfigError("", err.Error(), types.ErrInvalidYAML)
	}
	return project, nil
}

// declarationOrder recovers the order of service and volume keys from the
// raw document. compose-go returns maps, and the resolver needs the source
// order as its deterministic tie-break.
func declarationOrder(content []byte) (services, volumes []string, err error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, nil, types.NewConfigError("", "invalid YAML syntax", types.ErrInvalidYAML)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, nil, types.NewConfigError("", "topology must be a mapping document", types.ErrInvalidYAML)
	}

	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if value.Kind != yaml.MappingNode {
			continue
		}
		switch key.Value {
		case "services":
			services = mappingKeys(value)
		case "volumes":
			volumes = mappingKeys(value)
		}
	}
	return services, volumes, nil
}

func mappingKeys(node *yaml.Node) []string {
	keys := make([]string, 0, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}
	return keys
}

func convertService(svc composetypes.ServiceConfig, index int) (*types.Service, error) {
	service := &types.Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
		Index:       index,
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}
	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	for i, p := range svc.Ports {
		port := &types.PortMapping{
			HostIP:   p.HostIP,
			Target:   int(p.Target),
			Protocol: p.Protocol,
		}
		if p.Published != "" {
			published, err := strconv.Atoi(p.Published)
			if err != nil {
				field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
				return nil, types.NewConfigError(field, "published port must be a number", types.ErrInvalidYAML)
			}
			port.Published = published
		}
		if port.Target <= 0 || port.Target > 65535 || port.Published < 0 || port.Published > 65535 {
			field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
			return nil, types.NewConfigError(field, "port out of range", types.ErrInvalidYAML)
		}
		service.Ports = append(service.Ports, port)
	}

	for _, v := range svc.Volumes {
		mount := &types.VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.HostPath = true
		case "volume":
			mount.HostPath = false
		default:
			// Short syntax: infer from the source shape.
			mount.HostPath = strings.HasPrefix(v.Source, "./") ||
				strings.HasPrefix(v.Source, "/") ||
				strings.HasPrefix(v.Source, "~")
		}
		service.Mounts = append(service.Mounts, mount)
	}

	if cmd, ok := svc.Extensions[extCommand]; ok {
		command, err := stringSlice(cmd)
		if err != nil {
			return nil, types.NewConfigError("services."+svc.Name+"."+extCommand, err.Error(), types.ErrInvalidYAML)
		}
		service.Command = command
	}

	readiness, err := convertReadiness(svc)
	if err != nil {
		return nil, err
	}
	service.Readiness = readiness

	return service, nil
}

func convertReadiness(svc composetypes.ServiceConfig) (*types.ReadinessSpec, error) {
	raw, ok := svc.Extensions[extReadiness]
	if !ok {
		return nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, types.NewConfigError("services."+svc.Name+"."+extReadiness, "must be a mapping", types.ErrInvalidYAML)
	}

	spec := &types.ReadinessSpec{
		Type:   types.ProbeType(getString(m, "type", string(types.ProbeTCP))),
		Target: getString(m, "target", ""),
	}
	switch spec.Type {
	case types.ProbeTCP, types.ProbeHTTP, types.ProbeNone:
	default:
		return nil, types.NewConfigError("services."+svc.Name+"."+extReadiness+".type",
			fmt.Sprintf("unknown probe type %q", spec.Type), types.ErrInvalidYAML)
	}

	var err error
	if spec.Timeout, err = getDuration(m, "timeout"); err != nil {
		return nil, types.NewConfigError("services."+svc.Name+"."+extReadiness+".timeout", err.Error(), types.ErrInvalidYAML)
	}
	if spec.Interval, err = getDuration(m, "interval"); err != nil {
		return nil, types.NewConfigError("services."+svc.Name+"."+extReadiness+".interval", err.Error(), types.ErrInvalidYAML)
	}
	return spec, nil
}

func convertVolume(name string, vol composetypes.VolumeConfig, index int) (*types.Volume, error) {
	volume := &types.Volume{
		Name:   name,
		Driver: vol.Driver,
		Labels: map[string]string{},
		Index:  index,
	}
	if volume.Driver == "" {
		volume.Driver = "local"
	}
	for k, v := range vol.Labels {
		volume.Labels[k] = v
	}

	raw, ok := vol.Extensions[extInitScripts]
	if !ok {
		return volume, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, types.NewConfigError("volumes."+name+"."+extInitScripts, "must be a list", types.ErrInvalidYAML)
	}
	for i, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			field := fmt.Sprintf("volumes.%s.%s[%d]", name, extInitScripts, i)
			return nil, types.NewConfigError(field, "must be a mapping with name and command", types.ErrInvalidYAML)
		}
		script := &types.InitScript{Name: getString(m, "name", "")}
		if script.Name == "" {
			field := fmt.Sprintf("volumes.%s.%s[%d].name", name, extInitScripts, i)
			return nil, types.NewConfigError(field, "init script name is required", types.ErrInvalidYAML)
		}
		command, err := stringSlice(m["command"])
		if err != nil || len(command) == 0 {
			field := fmt.Sprintf("volumes.%s.%s[%d].command", name, extInitScripts, i)
			return nil, types.NewConfigError(field, "init script command is required", types.ErrInvalidYAML)
		}
		script.Command = command
		volume.InitScripts = append(volume.InitScripts, script)
	}
	return volume, nil
}

// Validate checks the cross-entity invariants of a topology: no duplicate
// names, no dangling dependency or volume references, no self-dependency.
// Cycle detection is the resolver's job, not the parser's.
func Validate(topo *types.Topology) error {
	seenServices := make(map[string]bool, len(topo.Services))
	for _, svc := range topo.Services {
		if seenServices[svc.Name] {
			return types.NewConfigError("services."+svc.Name, "duplicate service name", types.ErrDuplicateName)
		}
		seenServices[svc.Name] = true
	}

	seenVolumes := make(map[string]bool, len(topo.Volumes))
	for _, vol := range topo.Volumes {
		if seenVolumes[vol.Name] {
			return types.NewConfigError("volumes."+vol.Name, "duplicate volume name", types.ErrDuplicateName)
		}
		seenVolumes[vol.Name] = true
	}

	for _, svc := range topo.Services {
		for _, dep := range svc.DependsOn {
			if dep == svc.Name {
				return types.NewConfigError("services."+svc.Name+".depends_on",
					"service cannot depend on itself", types.ErrSelfDependency)
			}
			if !seenServices[dep] {
				return types.NewConfigError("services."+svc.Name+".depends_on",
					fmt.Sprintf("undeclared service %q", dep), types.ErrUnknownDependency)
			}
		}
		for _, mount := range svc.Mounts {
			if mount.HostPath {
				continue
			}
			if !seenVolumes[mount.Source] {
				return types.NewConfigError("services."+svc.Name+".volumes",
					fmt.Sprintf("undeclared volume %q", mount.Source), types.ErrUnknownVolume)
			}
		}
	}
	return nil
}

// Extension value helpers.

func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getDuration(m map[string]interface{}, key string) (time.Duration, error) {
	v, ok := m[key]
	if !ok {
		return 0, nil
	}
	d, err := time.ParseDuration(fmt.Sprintf("%v", v))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

func stringSlice(v interface{}) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", v)
	}
}
