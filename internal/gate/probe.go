package gate

import (
	"fmt"
	"os"
	"strings"
)

// Probe reports whether execution happens inside the mandated isolation
// environment.
type Probe interface {
	Isolated() bool
}

// StaticProbe always returns its own value.
type StaticProbe bool

// Isolated implements Probe.
func (p StaticProbe) Isolated() bool { return bool(p) }

var cgroupMarkers = []string{"docker", "containerd", "kubepods", "podman"}

// ContainerProbe detects a container runtime from the filesystem.
type ContainerProbe struct {
	DockerEnvPath string
	CgroupPath    string
}

// NewContainerProbe returns a probe using the standard marker locations.
func NewContainerProbe() ContainerProbe {
	return ContainerProbe{DockerEnvPath: "/.dockerenv", CgroupPath: "/proc/1/cgroup"}
}

// Isolated implements Probe. Unreadable markers count as not isolated.
func (p ContainerProbe) Isolated() bool {
	if p.DockerEnvPath != "" {
		if _, err := os.Stat(p.DockerEnvPath); err == nil {
			return true
		}
	}
	if p.CgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(p.CgroupPath)
	if err != nil {
		return false
	}
	text := strings.ToLower(string(data))
	for _, m := range cgroupMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// Isolation modes accepted by ProbeFor.
const (
	IsolationAuto   = "auto"
	IsolationAlways = "always"
	IsolationNever  = "never"
)

// ProbeFor builds the probe for a configured isolation mode.
func ProbeFor(mode, dockerEnvPath, cgroupPath string) (Probe, error) {
	switch mode {
	case "", IsolationAuto:
		p := NewContainerProbe()
		if dockerEnvPath != "" {
			p.DockerEnvPath = dockerEnvPath
		}
		if cgroupPath != "" {
			p.CgroupPath = cgroupPath
		}
		return p, nil
	case IsolationAlways:
		return StaticProbe(true), nil
	case IsolationNever:
		return StaticProbe(false), nil
	}
	return nil, fmt.Errorf("unknown isolation mode %q", mode)
}
