package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/chaz8081/skellyctl/internal/ble"
	"github.com/chaz8081/skellyctl/internal/catalog"
)

func printDevices(devices []ble.Device) {
	if len(devices) == 0 {
		fmt.Println("No devices found")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%d\n", d.Name, d.Address, d.RSSI)
	}
	w.Flush()
}

func printFiles(entries []catalog.Entry) {
	if len(entries) == 0 {
		fmt.Println("No files stored")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tCLUSTER\tLENGTH\tNAME")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%d\t%ds\t%s\n", e.Serial, e.Cluster, e.Length, e.Name)
	}
	w.Flush()
}

// printStatus displays the device snapshot.
func printStatus(st ble.Status) {
	fmt.Println("=== skellyctl ===")
	fmt.Printf("  Address:  %s\n", st.Address)
	if st.DeviceName != "" {
		fmt.Printf("  Name:     %s\n", st.DeviceName)
	}
	if st.BTName != "" {
		fmt.Printf("  BT name:  %s\n", st.BTName)
	}
	if st.Volume >= 0 {
		fmt.Printf("  Volume:   %d\n", st.Volume)
	}
	if st.CapacityKB >= 0 {
		fmt.Printf("  Free:     %d KB (%d files)\n", st.CapacityKB, st.FilesReported)
	}
	if st.PIN != "" {
		fmt.Printf("  PIN:      %s\n", st.PIN)
	}
	fmt.Printf("  Show:     mode %d, eye %d\n", st.ShowMode, st.Live.Eye)
	fmt.Println("=================")
}
