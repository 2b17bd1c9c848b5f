package ble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ScanForDevices scans for timeout and returns advertisers whose name
// starts with namePrefix (case-insensitive), strongest signal first. An
// empty prefix returns every named device.
func ScanForDevices(adapter Adapter, namePrefix string, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	found, err := adapter.Scan(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	prefix := strings.ToLower(namePrefix)
	seen := make(map[string]bool)
	var devices []Device
	for _, d := range found {
		if d.Name == "" || seen[d.Address] {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(d.Name), prefix) {
			continue
		}
		seen[d.Address] = true
		devices = append(devices, d)
	}
	sort.SliceStable(devices, func(i, j int) bool { return devices[i].RSSI > devices[j].RSSI })
	return devices, nil
}
