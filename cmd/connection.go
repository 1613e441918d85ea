// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// EnvPassword holds the WebSocket password
const EnvPassword = "SYSEXCONF_PASSWORD"

// Connection provides a common interface for reading/writing bytes from
// serial, WebSocket or MIDI ports
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection is a raw byte stream on a serial port. SysEx framing is
// recovered by the reader.
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(frame []byte) (int, error) {
	return s.port.Write(frame)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned once the peer has gone away
var ErrConnectionClosed = errors.New("connection closed")

// WebSocketConnection carries SysEx over binary WebSocket messages. Each
// outgoing frame is one message; incoming messages may hold several frames
// and are streamed through without copying.
type WebSocketConnection struct {
	conn *websocket.Conn
	msg  io.Reader
	done bool
}

func newWebSocketConnection(conn *websocket.Conn, maxFrame int) *WebSocketConnection {
	// A message may batch the frames of a multi-part reply
	if maxFrame > 0 {
		conn.SetReadLimit(int64(maxFrame) * 16)
	}
	return &WebSocketConnection{conn: conn}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	for !w.done {
		if w.msg == nil {
			kind, r, err := w.conn.NextReader()
			if err != nil {
				w.done = true
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			w.msg = r
		}

		n, err := w.msg.Read(p)
		if errors.Is(err, io.EOF) {
			w.msg = nil
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, ErrConnectionClosed
}

func (w *WebSocketConnection) Write(frame []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return 0, err
	}
	return len(frame), nil
}

// Close sends a close message before dropping the socket
func (w *WebSocketConnection) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return w.conn.Close()
}

// MIDIConnection bridges a pair of MIDI ports to a byte stream. Only SysEx
// messages are passed to the reader.
type MIDIConnection struct {
	in   drivers.In
	out  drivers.Out
	stop func()
	pr   *io.PipeReader
	pw   *io.PipeWriter
}

func (m *MIDIConnection) Read(p []byte) (int, error) {
	return m.pr.Read(p)
}

func (m *MIDIConnection) Write(p []byte) (int, error) {
	if err := m.out.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (m *MIDIConnection) Close() error {
	m.stop()
	_ = m.pw.Close()
	inErr := m.in.Close()
	outErr := m.out.Close()
	drivers.Close()
	if inErr != nil {
		return inErr
	}
	return outErr
}

// OpenSerialConnection opens a serial port at 8N1 and flushes anything the
// device sent before we were listening, so the first frame read is whole.
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serial open failed (%s): %w", portName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		logger.Debug().Err(err).Str("port", portName).Msg("input flush failed")
	}
	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection dials a ws:// or wss:// endpoint. Credentials, when
// given, are sent as HTTP Basic auth on the upgrade request.
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool, maxFrame int) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   maxFrame,
		WriteBufferSize:  maxFrame,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	upgrade := &http.Request{Header: http.Header{}}
	if username != "" && password != "" {
		upgrade.SetBasicAuth(username, password)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), upgrade.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	switch {
	case err != nil && resp != nil:
		return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
	case err != nil:
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return newWebSocketConnection(conn, maxFrame), nil
}

// findPort returns the port named name, or the only port containing it
func findPort[P interface{ String() string }](ports []P, name string) (P, error) {
	var zero P
	var matches []P
	for _, p := range ports {
		if p.String() == name {
			return p, nil
		}
		if strings.Contains(strings.ToLower(p.String()), strings.ToLower(name)) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return zero, fmt.Errorf("MIDI port %q not found", name)
	case 1:
		return matches[0], nil
	default:
		return zero, fmt.Errorf("MIDI port %q is ambiguous (%d matches)", name, len(matches))
	}
}

// OpenMIDIConnection opens an input and an output port and listens for
// SysEx on the input
func OpenMIDIConnection(inName, outName string, maxSysEx int) (Connection, error) {
	if outName == "" {
		outName = inName
	}

	ins, err := drivers.Ins()
	if err != nil {
		return nil, fmt.Errorf("failed to list MIDI inputs: %w", err)
	}
	in, err := findPort(ins, inName)
	if err != nil {
		return nil, err
	}
	outs, err := drivers.Outs()
	if err != nil {
		return nil, fmt.Errorf("failed to list MIDI outputs: %w", err)
	}
	out, err := findPort(outs, outName)
	if err != nil {
		return nil, err
	}

	if err := out.Open(); err != nil {
		return nil, fmt.Errorf("failed to open MIDI output %s: %w", out, err)
	}

	pr, pw := io.Pipe()
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		if len(msg) > 0 && msg[0] == 0xF0 {
			_, _ = pw.Write(msg.Bytes())
		}
	}, midi.UseSysEx(), midi.SysExBufferSize(uint32(maxSysEx)), midi.HandleError(func(err error) {
		logger.Warn().Err(err).Str("port", in.String()).Msg("MIDI listener error")
		_ = pw.CloseWithError(err)
	}))
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("failed to listen on MIDI input %s: %w", in, err)
	}

	return &MIDIConnection{in: in, out: out, stop: stop, pr: pr, pw: pw}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(EnvPassword); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// maxFrameSize bounds a single SysEx frame on the host side
const maxFrameSize = 4096

// OpenConnection opens a MIDI, WebSocket or serial connection based on flags
func OpenConnection() (Connection, string, error) {
	if midiIn != "" {
		conn, err := OpenMIDIConnection(midiIn, midiOut, maxFrameSize)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("MIDI: %s", midiIn), nil
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify, maxFrameSize)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --midi-in must be specified")
}
