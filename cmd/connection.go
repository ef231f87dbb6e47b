// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kestrelworks/asyncloader/pkg/hostport"
	"github.com/kestrelworks/asyncloader/pkg/loader"
)

// openSharedPort builds the shared port from the connection flags:
// a local serial device with --port, or a WebSocket serial bridge with
// --url.
func openSharedPort() (*hostport.SharedPort, string, error) {
	if bridgeURL != "" {
		u, err := url.Parse(bridgeURL)
		if err != nil {
			return nil, "", fmt.Errorf("invalid URL: %w", err)
		}
		switch u.Scheme {
		case "ws", "wss":
		default:
			return nil, "", fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
		}
		shared := hostport.NewSharedPort(hostport.NewRemotePort(bridgeURL))
		return shared, fmt.Sprintf("Bridge: %s @ %d baud", bridgeURL, baudRate), nil
	}

	if portName != "" {
		shared := hostport.OpenShared(portName)
		return shared, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// newLoader builds a configured Loader from the flags.
func newLoader() (*loader.Loader, string, error) {
	shared, description, err := openSharedPort()
	if err != nil {
		return nil, "", err
	}

	l := loader.New(shared, loader.WithLogger(log))

	if err := l.SetBaudrate(baudRate); err != nil {
		return nil, "", err
	}
	switch strings.ToLower(resetLineName) {
	case "dtr":
		err = l.SetResetLine(loader.ResetLineDTR)
	case "rts":
		err = l.SetResetLine(loader.ResetLineRTS)
	default:
		err = fmt.Errorf("unknown reset line %q (use dtr or rts)", resetLineName)
	}
	if err != nil {
		return nil, "", err
	}
	if err := l.SetResetDuration(resetDuration); err != nil {
		return nil, "", err
	}
	if err := l.SetBootWaitDuration(bootWait); err != nil {
		return nil, "", err
	}

	return l, description, nil
}
