// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qmp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// ScriptStep is one request/response pair a [FakeMonitor] serves. With an
// empty Expect the step writes its response without reading first.
type ScriptStep struct {
	Expect   string
	Response string
}

// FakeMonitor is a scripted monitor endpoint on a unix socket, serving a
// single connection. It exists for tests of the socket client and the
// backends built on it.
type FakeMonitor struct {
	greeting string
	script   []ScriptStep

	path     string
	listener net.Listener
	eg       errgroup.Group
}

// StartFakeMonitor listens on a unix socket below dir and serves greeting
// and script to the first connection.
func StartFakeMonitor(
	dir string,
	greeting string,
	script []ScriptStep,
) (*FakeMonitor, error) {
	path := filepath.Join(dir, "qmp.sock")

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	monitor := &FakeMonitor{
		greeting: greeting,
		script:   script,
		path:     path,
		listener: listener,
	}

	monitor.eg.Go(monitor.serve)

	return monitor, nil
}

// Path returns the socket path clients should dial.
func (m *FakeMonitor) Path() string {
	return m.path
}

func (m *FakeMonitor) serve() error {
	conn, err := m.listener.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = io.WriteString(conn, m.greeting)
	if err != nil {
		return err
	}

	buf := make([]byte, 4096)

	for _, step := range m.script {
		if step.Expect != "" {
			// Commands may arrive split across several reads.
			total := 0
			for total < len(step.Expect) {
				n, err := conn.Read(buf[total:])
				if err != nil {
					return err
				}

				total += n
			}

			if got := string(buf[:total]); got != step.Expect {
				return fmt.Errorf("unexpected command %q, want %q",
					got, step.Expect)
			}
		}

		if step.Response != "" {
			_, err := io.WriteString(conn, step.Response)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// Close shuts the listener down and waits for the serve goroutine. A client
// that disconnected early or never connected is not an error.
func (m *FakeMonitor) Close() error {
	_ = m.listener.Close()

	err := m.eg.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return nil
	}

	return err
}
