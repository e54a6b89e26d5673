// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/h7ga40/uITron3-sub000/stack"
	"github.com/h7ga40/uITron3-sub000/stack/core"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("lwstack")

const (
	VERSION = "0.1"
)

type MainArgs struct {
	config   *string
	verbose  *bool
	sim      *bool
	time     *int
	capture  *bool
	file     *string
	tun      *string
	addr     *string
	peer     *string
	port     *int
	count    *int
	version  *bool
	counters *bool
	duration time.Duration
}

func parseMainArgs() *MainArgs {
	var args MainArgs
	parser := argparse.NewParser("lwstack", "lightweight tcp/ip stack driver")

	args.config = parser.String("C", "config", &argparse.Options{Default: "", Help: "Path to a json/yaml config file"})
	args.verbose = parser.Flag("v", "verbose", &argparse.Options{Default: false, Help: "Run in verbose mode"})
	args.sim = parser.Flag("s", "simulator", &argparse.Options{Default: false, Help: "Run two stacks over an in-memory link"})
	args.time = parser.Int("t", "time", &argparse.Options{Default: 10, Help: "Time of the simulation in sec"})
	args.capture = parser.Flag("c", "capture", &argparse.Options{Default: false, Help: "Capture every emitted datagram"})
	args.file = parser.String("f", "file", &argparse.Options{Default: "lwstack.pcap", Help: "Path to save the pcap file"})
	args.tun = parser.String("T", "tun", &argparse.Options{Default: "lwstack0", Help: "TUN interface name"})
	args.addr = parser.String("a", "addr", &argparse.Options{Default: "10.0.0.2", Help: "Stack address"})
	args.peer = parser.String("r", "peer", &argparse.Options{Default: "10.0.0.1", Help: "Peer address (simulation client or TUN host)"})
	args.port = parser.Int("p", "port", &argparse.Options{Default: 7, Help: "Echo server port"})
	args.count = parser.Int("n", "count", &argparse.Options{Default: 10, Help: "Number of echo messages in simulation"})
	args.version = parser.Flag("V", "version", &argparse.Options{Default: false, Help: "show lwstack version"})
	args.counters = parser.Flag("", "counters", &argparse.Options{Default: false, Help: "Dump the counters at exit"})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}
	args.duration = time.Duration(*args.time) * time.Second
	return &args
}

func loadConfig(args *MainArgs) (*core.Config, error) {
	if *args.config == "" {
		return core.DefaultConfig(), nil
	}
	return core.LoadConfig(*args.config)
}

func dumpCounters(name string, s *stack.Stack) {
	js, err := s.Counters().MarshalJson(false)
	if err != nil {
		log.Errorf("counters: %v", err)
		return
	}
	fmt.Printf("%s %s\n", name, js)
}

func run(args *MainArgs) error {
	if *args.version {
		fmt.Printf("lwstack version is %s \n", VERSION)
		return nil
	}
	core.ConfigureLogger(*args.verbose)

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	addr, err := core.ParseIP4Addr(*args.addr)
	if err != nil {
		return err
	}
	peer, err := core.ParseIP4Addr(*args.peer)
	if err != nil {
		return err
	}

	var capture *captureWriter
	if *args.capture {
		capture, err = newCaptureWriter(*args.file)
		if err != nil {
			return err
		}
		defer capture.Close()
	}

	if *args.sim {
		return runSim(args, cfg, addr, peer, capture)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runTun(ctx, args, cfg, addr, peer, capture)
}

func main() {
	if err := run(parseMainArgs()); err != nil {
		fmt.Fprintf(os.Stderr, "lwstack: %v\n", err)
		os.Exit(1)
	}
}
