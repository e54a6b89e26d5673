// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"fmt"
	"os"

	"github.com/op/go-logging"
)

var (
	// Debug turns assertion violations into panics. Tests set it.
	Debug = false

	log = logging.MustGetLogger("core")
)

var logFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000000} %{module} %{shortfunc} %{level:s} %{id:03x}%{color:reset} ▶ %{message}`,
)

// ConfigureLogger sets the backend of all the stack module loggers
func ConfigureLogger(verbose bool) {
	backend := logging.NewLogBackend(os.Stderr, "[LWSTACK] ", 0)
	backendformatter := logging.NewBackendFormatter(backend, logFormat)
	backendLeveled := logging.AddModuleLevel(backendformatter)

	if verbose {
		backendLeveled.SetLevel(logging.DEBUG, "")
	} else {
		backendLeveled.SetLevel(logging.WARNING, "")
	}
	logging.SetBackend(backendLeveled)
}

// Assert reports a programmer error. It panics in debug mode and only logs otherwise.
func Assert(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	s := fmt.Sprintf(format, args...)
	log.Critical("assertion failed: " + s)
	if Debug {
		panic(s)
	}
}
