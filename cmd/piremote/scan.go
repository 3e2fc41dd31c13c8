package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/marcuoli/go-piremote/pkg/piremote"
	"github.com/marcuoli/go-piremote/pkg/piremote/discovery"
	"github.com/marcuoli/go-piremote/pkg/piremote/network"
	"github.com/marcuoli/go-piremote/pkg/piremote/probe"
)

type scanFlags struct {
	continuous bool
	jsonFile   string
	ports      string
	workers    int
	ping       bool
	mac        bool
	hints      bool
	targets    bool
}

func newScanCmd() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan [prefix]",
		Short: "Sweep a /24 for SSH-reachable hosts",
		Long: `Sweep a range for hosts answering on the probe ports (22 by default).
The prefix is three octets ("192.168.1"), a host address or a CIDR; without
one the local /24 is used. Hosts whose name contains "raspberry" or "pi" are
marked as targets.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args, f)
		},
	}
	cmd.Flags().BoolVarP(&f.continuous, "continuous", "c", false, "scan repeatedly until interrupted")
	cmd.Flags().StringVar(&f.jsonFile, "json", "", "write the device list to this file when done")
	cmd.Flags().StringVarP(&f.ports, "ports", "p", "", "comma-separated TCP ports to probe (default from config)")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "concurrent probes (default from config)")
	cmd.Flags().BoolVar(&f.ping, "ping", false, "fall back to ICMP echo when no port is open")
	cmd.Flags().BoolVar(&f.mac, "mac", false, "look up MAC address and vendor of live hosts")
	cmd.Flags().BoolVar(&f.hints, "hints", false, "collect names from zeroconf and SSDP during the pass")
	cmd.Flags().BoolVarP(&f.targets, "targets", "t", false, "only list target-class devices")
	return cmd
}

func runScan(cmd *cobra.Command, args []string, f scanFlags) error {
	prefix := cfg.Scan.Prefix
	if len(args) == 1 {
		prefix = args[0]
	}
	if prefix == "" {
		prefix = network.LocalPrefix()
	}
	cidr, err := network.PrefixCIDR(prefix)
	if err != nil {
		return err
	}

	opts := cfg.Scan.EngineOptions()
	if f.ports != "" {
		ports, err := probe.ParsePorts(f.ports)
		if err != nil {
			return err
		}
		opts.Probe.Ports = ports
	}
	if f.workers > 0 {
		opts.Workers = f.workers
	}
	opts.Probe.Ping = opts.Probe.Ping || f.ping
	opts.Probe.LookupMAC = opts.Probe.LookupMAC || f.mac
	opts.Hints = opts.Hints || f.hints

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := discovery.NewEngine(opts)
	log.WithField("range", cidr).WithField("ports", opts.Probe.Ports).Info("scan started")

	if f.continuous {
		err = scanContinuous(ctx, engine, cidr, f)
	} else {
		err = scanOnce(ctx, engine, cidr, f)
	}
	if err != nil {
		return err
	}

	devices := engine.State().Devices()
	if f.targets {
		devices = piremote.Targets(devices)
	}
	renderDevices(devices)

	if f.jsonFile != "" {
		if err := writeSnapshot(f.jsonFile, cidr, devices); err != nil {
			return err
		}
		pterm.Success.Printfln("Wrote %d devices to %s", len(devices), f.jsonFile)
	}
	return nil
}

func scanOnce(ctx context.Context, engine *discovery.Engine, cidr string, f scanFlags) error {
	ch, err := engine.Scan(ctx, cidr)
	if err != nil {
		return err
	}
	total := engine.State().Total()
	bar, _ := pterm.DefaultProgressbar.WithTotal(total).WithTitle("Scanning " + cidr).Start()

	events, unsubscribe := engine.State().Subscribe(total + 16)
	defer unsubscribe()

	done := false
	for !done {
		select {
		case d, ok := <-ch:
			if !ok {
				done = true
				break
			}
			printDevice(d, f.targets)
		case ev := <-events:
			if ev.Kind == discovery.EventProgress && bar != nil && ev.Progress > bar.Current {
				bar.Add(ev.Progress - bar.Current)
			}
		}
	}
	if bar != nil {
		_, _ = bar.Stop()
	}

	if err := engine.Err(); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if ctx.Err() != nil {
		pterm.Warning.Println("Scan interrupted")
	}
	return nil
}

func scanContinuous(ctx context.Context, engine *discovery.Engine, cidr string, f scanFlags) error {
	events, unsubscribe := engine.State().Subscribe(4096)
	defer unsubscribe()

	errc := make(chan error, 1)
	go func() { errc <- engine.Run(ctx, cidr) }()

	pterm.Info.Printfln("Scanning %s continuously, press Ctrl-C to stop", cidr)
	passes := 0
	for {
		select {
		case err := <-errc:
			pterm.Info.Printfln("Stopped after %d passes", passes)
			return err
		case ev := <-events:
			switch ev.Kind {
			case discovery.EventDevice:
				printDevice(ev.Device, f.targets)
			case discovery.EventPassEnd:
				if ev.Progress == ev.Total {
					passes++
					pterm.Debug.Printfln("pass %d done, %d devices known", passes, engine.State().Len())
				}
			}
		}
	}
}

func printDevice(d discovery.Device, targetsOnly bool) {
	switch {
	case d.TargetClass:
		pterm.Success.Printfln("%-15s %-30s %s", d.Address, d.Hostname, d.OpenPorts)
	case !targetsOnly:
		pterm.Info.Printfln("%-15s %-30s %s", d.Address, d.Hostname, d.OpenPorts)
	}
}

func renderDevices(devices []discovery.Device) {
	if len(devices) == 0 {
		pterm.Warning.Println("No devices found.")
		return
	}
	pterm.Println()
	_ = pterm.DefaultTable.
		WithHasHeader(true).
		WithBoxed(false).
		WithData(deviceTable(devices)).
		Render()
}

func deviceTable(devices []discovery.Device) pterm.TableData {
	data := pterm.TableData{{"Address", "Hostname", "Ports", "MAC", "Vendor", "Target"}}
	for _, d := range devices {
		target := ""
		if d.TargetClass {
			target = "yes"
		}
		data = append(data, []string{d.Address, d.Hostname, d.OpenPorts, d.MAC, d.Vendor, target})
	}
	return data
}

// snapshot is the --json export format.
type snapshot struct {
	Version     string             `json:"version"`
	GeneratedAt time.Time          `json:"generated_at"`
	Range       string             `json:"range"`
	Count       int                `json:"count"`
	Targets     int                `json:"targets"`
	Devices     []discovery.Device `json:"devices"`
}

func newSnapshot(cidr string, devices []discovery.Device, now time.Time) snapshot {
	if devices == nil {
		devices = []discovery.Device{}
	}
	return snapshot{
		Version:     piremote.Version,
		GeneratedAt: now.UTC(),
		Range:       cidr,
		Count:       len(devices),
		Targets:     len(piremote.Targets(devices)),
		Devices:     devices,
	}
}

func writeSnapshot(path, cidr string, devices []discovery.Device) error {
	data, err := json.MarshalIndent(newSnapshot(cidr, devices, time.Now()), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
