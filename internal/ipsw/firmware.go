package ipsw

import (
	"fmt"

	"github.com/pkg/errors"
)

// Firmware describes one downloadable IPSW build.
type Firmware struct {
	Device      string // device identifier like "iPhone4,1"
	Version     string // marketing version like "9.3.6"
	BuildID     string // build identifier like "13G37"
	URL         string
	SHA256      string // empty means do not verify
	Size        uint64 // expected size in bytes, informational
	Kernelcache string // member name inside the archive
}

// Filename is used to get the local restore file name.
func (fw *Firmware) Filename() string {
	return fmt.Sprintf("%s_%s_%s_Restore.ipsw", fw.Device, fw.Version, fw.BuildID)
}

// catalog lists the supported device and version combinations, the
// target of this project is the iPhone 4S on the last build Apple
// signed for it.
var catalog = []*Firmware{
	{
		Device:      "iPhone4,1",
		Version:     "9.3.6",
		BuildID:     "13G37",
		URL:         "http://appldnld.apple.com/ios9.3.6/091-23211-20190722-71054E22-A689-11E9-AF60-C1F198C1F9F5/iPhone4,1_9.3.6_13G37_Restore.ipsw",
		Size:        1375861749,
		Kernelcache: "kernelcache.release.n94",
	},
}

// Lookup is used to find the firmware for a device and version pair.
func Lookup(device, version string) (*Firmware, error) {
	for _, fw := range catalog {
		if fw.Device == device && fw.Version == version {
			f := *fw
			return &f, nil
		}
	}
	return nil, errors.Errorf("unsupported firmware: %s %s", device, version)
}

// Firmwares is used to get a copy of the whole catalog.
func Firmwares() []*Firmware {
	fws := make([]*Firmware, len(catalog))
	for i, fw := range catalog {
		f := *fw
		fws[i] = &f
	}
	return fws
}
