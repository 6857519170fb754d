package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DeviceClass selects batch sizes and timeouts for asset loading.
type DeviceClass int

const (
	DeviceDesktop DeviceClass = iota
	DeviceMobile
)

func (d DeviceClass) String() string {
	if d == DeviceMobile {
		return "mobile"
	}
	return "desktop"
}

var mobileUA = regexp.MustCompile(`(?i)android|webos|iphone|ipad|ipod|blackberry|iemobile|opera mini|mobile`)

// DetectDeviceClass probes a User-Agent string. Empty input is treated as desktop.
func DetectDeviceClass(userAgent string) DeviceClass {
	if mobileUA.MatchString(userAgent) {
		return DeviceMobile
	}
	return DeviceDesktop
}

// ParseDeviceClass converts a --device flag value. "auto" probes userAgent.
func ParseDeviceClass(value, userAgent string) (DeviceClass, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return DetectDeviceClass(userAgent), nil
	case "mobile":
		return DeviceMobile, nil
	case "desktop":
		return DeviceDesktop, nil
	default:
		return DeviceDesktop, fmt.Errorf("unknown device class %q (want mobile, desktop or auto)", value)
	}
}

// DeviceProfile is resolved once at startup and injected into the loader.
type DeviceProfile struct {
	Class           DeviceClass
	Timeout         time.Duration // per-asset hard deadline
	BatchSize       int           // concurrent secondary loads
	InterBatchDelay time.Duration // pause between secondary batches
}

// ProfileFor returns the default profile for a device class.
// Mobile networks are slower, so mobile gets a longer timeout and smaller batches.
func ProfileFor(class DeviceClass) DeviceProfile {
	if class == DeviceMobile {
		return DeviceProfile{
			Class:           DeviceMobile,
			Timeout:         20 * time.Second,
			BatchSize:       2,
			InterBatchDelay: 100 * time.Millisecond,
		}
	}
	return DeviceProfile{
		Class:     DeviceDesktop,
		Timeout:   15 * time.Second,
		BatchSize: 3,
	}
}
