// hazed exposes one or more local directories to a USB host as an MTP
// device, using the FunctionFS endpoints of a configured gadget.
//
// Storage entries are given as NAME=PATH or NAME=PATH:ro arguments:
//
//	hazed -ffs /dev/ffs-mtp sdcard=/data/media docs=/srv/docs:ro
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ITotalJustice/libhaze/haze"
	"github.com/ITotalJustice/libhaze/log"
	"github.com/ITotalJustice/libhaze/monitor"
	"github.com/ITotalJustice/libhaze/usb"
)

func parseEntry(arg string) (haze.FsEntry, error) {
	name, rest, ok := strings.Cut(arg, "=")
	if !ok || name == "" || rest == "" {
		return haze.FsEntry{}, fmt.Errorf("bad storage entry %q, want NAME=PATH[:ro]", arg)
	}
	entry := haze.FsEntry{DisplayName: name, Writable: true}
	if p, ok := strings.CutSuffix(rest, ":ro"); ok {
		entry.RootPath = p
		entry.Writable = false
	} else {
		entry.RootPath = rest
	}
	if fi, err := os.Stat(entry.RootPath); err != nil || !fi.IsDir() {
		return haze.FsEntry{}, fmt.Errorf("storage root %q is not a directory", entry.RootPath)
	}
	return entry, nil
}

func main() {
	ffsPath := flag.String("ffs", haze.DefaultFunctionFSPath, "mounted FunctionFS directory of the MTP gadget function")
	listen := flag.String("listen", "", "serve a WebSocket event monitor on this address (empty: disabled)")
	debug := flag.Bool("debug", false, "switch on protocol debugging")
	friendly := flag.String("friendly-name", "hazed", "device friendly name reported to the host")
	serial := flag.String("serial", "", "device serial number (default: generated)")
	prio := flag.Int("prio", 0, "responder thread nice value")
	cpu := flag.Int("cpu", -1, "responder thread CPU affinity (-1: unpinned)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: hazed [flags] NAME=PATH[:ro] ...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	var entries []haze.FsEntry
	for _, arg := range flag.Args() {
		entry, err := parseEntry(arg)
		if err != nil {
			log.Root.Fatalf("%v", err)
		}
		entries = append(entries, entry)
	}

	var callback haze.Callback
	var mon *monitor.Server
	monCtx, monCancel := context.WithCancel(context.Background())
	defer monCancel()
	if *listen != "" {
		mon = monitor.NewServer(log.Root)
		callback = mon.Publish
		go func() {
			if err := mon.ListenAndServe(monCtx, *listen); err != nil {
				log.Root.WithField("prefix", "monitor").Errorf("monitor exited: %v", err)
			}
		}()
		log.Root.WithField("prefix", "monitor").Infof("event monitor on ws://%s/events", *listen)
	}

	ep, err := usb.OpenFunctionFS(*ffsPath, 0)
	if err != nil {
		log.Root.Fatalf("open gadget endpoints at %s: %v", *ffsPath, err)
	}

	ok := haze.InitializeWithEndpoint(ep, &haze.Config{
		Entries:      entries,
		Callback:     callback,
		Logger:       log.Root,
		Debug:        *debug,
		Manufacturer: "libhaze",
		Model:        "hazed",
		FriendlyName: *friendly,
		SerialNumber: *serial,
		Priority:     *prio,
		CPUAffinity:  *cpu,
	})
	if !ok {
		ep.Close()
		log.Root.Fatal("responder failed to start (already running?)")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Root.Info("shutting down")
	haze.Exit()
}
