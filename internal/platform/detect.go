package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// HostDetector detects the platform with runtime and gopsutil.
type HostDetector struct{}

// NewDetector returns a HostDetector.
func NewDetector() Detector {
	return HostDetector{}
}

// Detect reports the host OS and architecture. On Linux it adds the
// distribution; a failed distro or kernel probe leaves those fields empty.
// Only a canceled context is an error.
func (HostDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      runtime.GOOS,
		Arch:    normalizeArch(runtime.GOARCH),
		ArchRaw: runtime.GOARCH,
	}

	if raw, err := host.KernelArch(); err == nil && raw != "" {
		info.ArchRaw = raw
	}
	if kernel, err := host.KernelVersionWithContext(ctx); err == nil {
		info.Kernel = kernel
	}

	if info.IsLinux() {
		distro, family, version, err := host.PlatformInformationWithContext(ctx)
		if err == nil && normalizeID(distro) != "" {
			info.Distro = normalizeID(distro)
			info.Family = mapFamily(family)
			info.Version = normalizeID(version)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("platform detection canceled: %w", err)
	}
	return info, nil
}
