// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

// Package hostlink is the host side of the configuration protocol. A Client
// sends requests over any byte stream (serial, WebSocket, MIDI) and matches
// the device replies.
package hostlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/snapshot"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

var (
	ErrTimeout = errors.New("hostlink: timed out waiting for reply")
	ErrClosed  = errors.New("hostlink: client closed")
)

// Options configures a Client
type Options struct {
	ValueSize sysexconf.ValueSize

	// Timeout bounds the wait for every reply.
	Timeout time.Duration

	// QuietGrace is how long a quiet-mode request waits for an error reply
	// before the withheld Ack is assumed.
	QuietGrace time.Duration

	// MaxMessageSize bounds incoming frames.
	MaxMessageSize int

	Logger zerolog.Logger

	// OnMessage receives frames that do not answer a pending request, such
	// as messages the device sends on its own.
	OnMessage func(*sysexconf.Frame)
}

// DefaultOptions returns options suited to a local serial link
func DefaultOptions() Options {
	return Options{
		ValueSize:      sysexconf.ValueSize2,
		Timeout:        2 * time.Second,
		QuietGrace:     100 * time.Millisecond,
		MaxMessageSize: 512,
		Logger:         zerolog.Nop(),
	}
}

// Capabilities are the transfer parameters a device reports
type Capabilities struct {
	ValueSize        sysexconf.ValueSize
	ParamsPerMessage int
}

// Client talks to one device. Requests are serialised; concurrent calls
// wait for each other.
type Client struct {
	conn io.ReadWriter
	id   sysexconf.ManufacturerID
	opts Options
	log  zerolog.Logger

	frames  chan []byte
	done    chan struct{}
	errMu   sync.Mutex
	readErr error

	reqMu sync.Mutex
	size  sysexconf.ValueSize
	quiet bool

	closeOnce sync.Once
}

// New starts a client reading replies from conn
func New(conn io.ReadWriter, id sysexconf.ManufacturerID, opts Options) *Client {
	def := DefaultOptions()
	if !opts.ValueSize.Valid() {
		opts.ValueSize = def.ValueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.QuietGrace <= 0 {
		opts.QuietGrace = def.QuietGrace
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}

	c := &Client{
		conn:   conn,
		id:     id,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "hostlink").Str("device", id.String()).Logger(),
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
		size:   opts.ValueSize,
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	err := ReadFrames(c.conn, c.opts.MaxMessageSize, c.log, func(frame []byte) {
		c.log.Trace().Str("rx", sysexconf.FormatBytes(frame)).Msg("frame received")
		select {
		case c.frames <- frame:
		case <-c.done:
		}
	})
	if err == nil {
		err = io.EOF
	}
	c.errMu.Lock()
	c.readErr = err
	c.errMu.Unlock()
	close(c.frames)
}

// Close stops the client and closes the underlying connection when it is
// an io.Closer.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if closer, ok := c.conn.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

// ValueSize returns the value size used to encode requests
func (c *Client) ValueSize() sysexconf.ValueSize {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.size
}

// Quiet reports whether the session was opened in quiet mode
func (c *Client) Quiet() bool {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.quiet
}

// ============================================================
// Session
// ============================================================

// Open opens a configuration session
func (c *Client) Open(ctx context.Context) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	_, err := c.special(ctx, sysexconf.SpecialConnOpen, c.quiet)
	return err
}

// OpenQuiet opens a session in which the device withholds Acks that carry
// no data. Devices running in tolerant mode reject it.
func (c *Client) OpenQuiet(ctx context.Context) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if _, err := c.special(ctx, sysexconf.SpecialConnOpenQuiet, true); err != nil {
		return err
	}
	c.quiet = true
	return nil
}

// DisableQuiet leaves quiet mode without closing the session
func (c *Client) DisableQuiet(ctx context.Context) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if _, err := c.special(ctx, sysexconf.SpecialConnQuietDisable, false); err != nil {
		return err
	}
	c.quiet = false
	return nil
}

// CloseSession closes the configuration session
func (c *Client) CloseSession(ctx context.Context) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if _, err := c.special(ctx, sysexconf.SpecialConnClose, false); err != nil {
		return err
	}
	c.quiet = false
	return nil
}

// Capabilities asks the device for its value size and parameters per
// message. The reported value size is used for every later request.
func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	var caps Capabilities
	// The reply payload is one value, so its length is the value size.
	f, err := c.roundTrip(ctx, sysexconf.NewSpecialRequest(c.id, sysexconf.SpecialBytesPerValue),
		func(raw []byte) (*sysexconf.Frame, error) {
			size := sysexconf.ValueSize(len(raw) - sysexconf.SpecialRequestSize)
			if !size.Valid() {
				size = c.size
			}
			return sysexconf.ParseSpecialReply(raw, size)
		},
		matchSpecial(sysexconf.SpecialBytesPerValue), false)
	if err != nil {
		return caps, err
	}
	if len(f.Values) != 1 || !sysexconf.ValueSize(f.Values[0]).Valid() {
		return caps, fmt.Errorf("unexpected value size reply: %s", sysexconf.FormatFrame(f))
	}
	caps.ValueSize = sysexconf.ValueSize(f.Values[0])
	c.size = caps.ValueSize

	values, err := c.special(ctx, sysexconf.SpecialParamsPerMessage, false)
	if err != nil {
		return caps, err
	}
	if len(values) != 1 {
		return caps, fmt.Errorf("unexpected parameters per message reply (%d values)", len(values))
	}
	caps.ParamsPerMessage = int(values[0])
	return caps, nil
}

// Custom sends a custom special request and returns the values of the
// reply. In quiet mode a reply without values is withheld and nil is
// returned.
func (c *Client) Custom(ctx context.Context, id sysexconf.SpecialRequest) ([]uint16, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.special(ctx, id, c.quiet)
}

// ============================================================
// Parameters
// ============================================================

// Get reads one parameter
func (c *Client) Get(ctx context.Context, block, section uint8, index uint16) (uint16, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	req, err := sysexconf.NewGetRequest(c.id, block, section, index, c.size)
	if err != nil {
		return 0, err
	}
	f, err := c.roundTrip(ctx, req, c.parse, matchStandard(block, section, sysexconf.WishGet), false)
	if err != nil {
		return 0, err
	}
	if len(f.Values) < 2 {
		return 0, fmt.Errorf("get reply carries no value: %s", sysexconf.FormatFrame(f))
	}
	return f.Values[1], nil
}

// Set writes one parameter
func (c *Client) Set(ctx context.Context, block, section uint8, index, value uint16) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	req, err := sysexconf.NewSetRequest(c.id, block, section, index, value, c.size)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, req, c.parse, matchStandard(block, section, sysexconf.WishSet), c.quiet)
	return err
}

// GetAll reads a whole section
func (c *Client) GetAll(ctx context.Context, block, section uint8) ([]uint16, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	req, err := sysexconf.NewGetAllRequest(c.id, block, section, sysexconf.AllPartsWithSummary, c.size)
	if err != nil {
		return nil, err
	}
	frames, err := c.collect(ctx, req, matchStandard(block, section, sysexconf.WishGet), false)
	if err != nil {
		return nil, err
	}

	var values []uint16
	for _, f := range frames {
		values = append(values, f.Values...)
	}
	return values, nil
}

// SetAll writes a whole section, one part of paramsPerMessage values at a
// time.
func (c *Client) SetAll(ctx context.Context, block, section uint8, values []uint16, paramsPerMessage int) error {
	if paramsPerMessage <= 0 {
		return fmt.Errorf("invalid parameters per message %d", paramsPerMessage)
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	for part := 0; part*paramsPerMessage < len(values); part++ {
		end := min((part+1)*paramsPerMessage, len(values))
		req, err := sysexconf.NewSetAllRequest(c.id, block, section, uint8(part), values[part*paramsPerMessage:end], c.size)
		if err != nil {
			return err
		}
		if _, err := c.roundTrip(ctx, req, c.parse, matchStandard(block, section, sysexconf.WishSet), c.quiet); err != nil {
			return fmt.Errorf("part %d: %w", part, err)
		}
	}
	return nil
}

// SectionInfo describes one section found by Sections
type SectionInfo struct {
	Block      uint8
	Section    uint8
	Parameters int

	// Err is set when the section exists but could not be read, for
	// example a write-only section.
	Err error
}

// Sections walks the layout of the device by reading every section until
// the device reports an unknown block.
func (c *Client) Sections(ctx context.Context) ([]SectionInfo, error) {
	var found []SectionInfo
	for block := uint8(0); block <= sysexconf.Max7; block++ {
		for section := uint8(0); section <= sysexconf.Max7; section++ {
			values, err := c.GetAll(ctx, block, section)

			var se *sysexconf.StatusError
			if errors.As(err, &se) && (se.Status == sysexconf.StatusErrorBlock || se.Status == sysexconf.StatusErrorSection) {
				if se.Status == sysexconf.StatusErrorBlock || section == 0 {
					return found, nil
				}
				break
			}
			if err != nil && se == nil {
				return found, err
			}

			found = append(found, SectionInfo{Block: block, Section: section, Parameters: len(values), Err: err})
		}
	}
	return found, nil
}

// ============================================================
// Backup and restore
// ============================================================

// Backup reads a section as replayable Set frames and adds them to snap
func (c *Client) Backup(ctx context.Context, block, section uint8, snap *snapshot.Snapshot) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	req, err := sysexconf.NewBackupRequest(c.id, block, section, c.size)
	if err != nil {
		return err
	}
	// In quiet mode the summary is withheld, so the transfer ends when the
	// device goes idle.
	frames, err := c.collect(ctx, req, matchStandard(block, section, sysexconf.WishSet, sysexconf.WishBackup), c.quiet)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := snap.Add(f.Raw); err != nil {
			return err
		}
	}
	c.log.Debug().Uint8("block", block).Uint8("section", section).Int("frames", len(frames)).Msg("section backed up")
	return nil
}

// Restore replays every frame of snap
func (c *Client) Restore(ctx context.Context, snap *snapshot.Snapshot) error {
	if snap.ID() != c.id {
		return fmt.Errorf("%w: snapshot %s, device %s", sysexconf.ErrManufacturerMismatch, snap.ID(), c.id)
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if sysexconf.ValueSize(snap.ValueSize) != c.size {
		return fmt.Errorf("snapshot value size %d does not match session value size %d", snap.ValueSize, c.size)
	}

	for _, frame := range snap.Frames() {
		f, err := sysexconf.ParseFrame(frame, c.size)
		if err != nil {
			return err
		}
		if _, err := c.roundTrip(ctx, frame, c.parse, matchStandard(f.Block, f.Section, sysexconf.WishSet), c.quiet); err != nil {
			return fmt.Errorf("restore %d/%d part %d: %w", f.Block, f.Section, f.Part, err)
		}
	}
	return nil
}

// ============================================================
// Exchange
// ============================================================

type parseFunc func([]byte) (*sysexconf.Frame, error)

type matchFunc func(*sysexconf.Frame) bool

func matchSpecial(id sysexconf.SpecialRequest) matchFunc {
	return func(f *sysexconf.Frame) bool {
		return f.Special && f.Request == id
	}
}

func matchStandard(block, section uint8, wishes ...sysexconf.Wish) matchFunc {
	return func(f *sysexconf.Frame) bool {
		if f.Special || f.Block != block || f.Section != section {
			return false
		}
		for _, w := range wishes {
			if f.Wish == w {
				return true
			}
		}
		return false
	}
}

func (c *Client) parse(raw []byte) (*sysexconf.Frame, error) {
	return sysexconf.ParseFrame(raw, c.size)
}

func (c *Client) parseSpecial(raw []byte) (*sysexconf.Frame, error) {
	return sysexconf.ParseSpecialReply(raw, c.size)
}

// special sends a special request and returns the reply values
func (c *Client) special(ctx context.Context, id sysexconf.SpecialRequest, quietAck bool) ([]uint16, error) {
	f, err := c.roundTrip(ctx, sysexconf.NewSpecialRequest(c.id, id), c.parseSpecial, matchSpecial(id), quietAck)
	if err != nil || f == nil {
		return nil, err
	}
	return f.Values, nil
}

// roundTrip writes req and waits for the matching reply. An error status is
// returned as a *sysexconf.StatusError. When quietAck is set a missing reply
// after the quiet grace period counts as success and the frame is nil.
func (c *Client) roundTrip(ctx context.Context, req []byte, parse parseFunc, match matchFunc, quietAck bool) (*sysexconf.Frame, error) {
	if err := c.write(req); err != nil {
		return nil, err
	}

	timeout := c.opts.Timeout
	if quietAck {
		timeout = c.opts.QuietGrace
	}
	f, err := c.await(ctx, parse, match, timeout)
	if quietAck && errors.Is(err, ErrTimeout) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := f.Err(); err != nil {
		return f, err
	}
	return f, nil
}

// collect writes req and gathers part replies until the summary frame.
// With idleEnds set the transfer also ends when no frame arrives within the
// quiet grace period.
func (c *Client) collect(ctx context.Context, req []byte, match matchFunc, idleEnds bool) ([]*sysexconf.Frame, error) {
	if err := c.write(req); err != nil {
		return nil, err
	}

	var frames []*sysexconf.Frame
	for {
		timeout := c.opts.Timeout
		if idleEnds && len(frames) > 0 {
			timeout = c.opts.QuietGrace
		}
		f, err := c.await(ctx, c.parse, match, timeout)
		if idleEnds && len(frames) > 0 && errors.Is(err, ErrTimeout) {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
		if err := f.Err(); err != nil {
			return nil, fmt.Errorf("part %d: %w", f.Part, err)
		}
		if f.IsSummary() {
			return frames, nil
		}
		frames = append(frames, f)
	}
}

func (c *Client) write(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.log.Trace().Str("tx", sysexconf.FormatBytes(frame)).Msg("frame sent")
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// await returns the next frame accepted by match. Frames from other devices
// are dropped and unmatched frames go to OnMessage.
func (c *Client) await(ctx context.Context, parse parseFunc, match matchFunc, timeout time.Duration) (*sysexconf.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		var raw []byte
		select {
		case frame, ok := <-c.frames:
			if !ok {
				return nil, c.err()
			}
			raw = frame
		case <-timer.C:
			return nil, ErrTimeout
		case <-c.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		f, err := parse(raw)
		if err != nil {
			c.log.Debug().Err(err).Str("frame", sysexconf.FormatBytes(raw)).Msg("unparsable frame")
			continue
		}
		if f.ManufacturerID != c.id {
			c.log.Debug().Stringer("id", f.ManufacturerID).Msg("frame for another device")
			continue
		}
		if !match(f) {
			c.log.Debug().Str("frame", sysexconf.FormatFrame(f)).Msg("unsolicited frame")
			if c.opts.OnMessage != nil {
				c.opts.OnMessage(f)
			}
			continue
		}
		return f, nil
	}
}

func (c *Client) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil || errors.Is(c.readErr, io.EOF) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
}
