// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds one exchange when the caller does not override it.
const DefaultTimeout = 2 * time.Second

// Client is the synchronous request/response dispatcher. The link is strictly
// half-duplex: at most one exchange is in flight, enforced with a mutex, and
// there is no request-id multiplexing. Call and ReadStreamFrame share the
// same lock so they can never run concurrently on one transport.
type Client struct {
	mu        sync.Mutex
	fr        *Framer
	timeout   time.Duration
	streaming bool
}

// NewClient creates a client over the given transport.
func NewClient(t Transport) *Client {
	return &Client{fr: NewFramer(t), timeout: DefaultTimeout}
}

// SetTimeout changes the per-exchange timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Stats returns the link statistics for this client.
func (c *Client) Stats() *Stats { return c.fr.Stats() }

// Streaming reports whether the client believes the firmware is pushing
// telemetry frames.
func (c *Client) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Call sends one command frame and blocks until the matching response frame
// (request cmd | 0x80) arrives or the timeout elapses.
//
// Any other frame is a protocol violation in this path and fails the call
// with ErrUnexpectedFrame - except unsolicited telemetry pushes while the
// stream is enabled, which are skipped so that the stop exchange itself can
// complete. With expectLen >= 0 a response of any other payload length fails
// with ErrLengthMismatch. A timeout leaves the link resynchronizable: the
// next read starts a fresh frame search and a late response decodes as an
// unexpected frame, not as corruption.
func (c *Client) Call(cmd byte, payload []byte, expectLen int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call(cmd, payload, expectLen)
}

func (c *Client) call(cmd byte, payload []byte, expectLen int) ([]byte, error) {
	if err := c.fr.WriteFrame(cmd, payload); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	want := cmd | ResponseFlag
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: cmd 0x%02X", ErrTimeout, cmd)
		}
		f, err := c.fr.ReadFrame(remaining)
		if err != nil {
			return nil, err
		}
		if f.Cmd() != want {
			if c.streaming && f.IsPush() {
				continue
			}
			return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrUnexpectedFrame, f.Cmd(), want)
		}
		if expectLen >= 0 && len(f.Payload()) != expectLen {
			return nil, fmt.Errorf("%w: cmd 0x%02X got %d bytes, want %d", ErrLengthMismatch, cmd, len(f.Payload()), expectLen)
		}
		c.fr.Stats().CountExchange()
		return f.Payload(), nil
	}
}

// callStatus runs an exchange whose response is a single status byte.
func (c *Client) callStatus(cmd byte, payload []byte) error {
	resp, err := c.Call(cmd, payload, 1)
	if err != nil {
		return err
	}
	if err := checkStatus(cmd, resp); err != nil {
		c.fr.Stats().CountStatusReject()
		return err
	}
	return nil
}

// Ping checks link liveness and returns the firmware's protocol version and
// uptime.
func (c *Client) Ping() (PingInfo, error) {
	resp, err := c.Call(CmdPing, nil, PingInfoSize)
	if err != nil {
		return PingInfo{}, err
	}
	return DecodePingInfo(resp)
}

// State dumps the live vehicle state.
func (c *Client) State() (State, error) {
	resp, err := c.Call(CmdStateDump, nil, StateSize)
	if err != nil {
		return State{}, err
	}
	return DecodeState(resp)
}

// SetState mutates one live state field.
func (c *Client) SetState(field byte, value uint32) error {
	p := make([]byte, 5)
	p[0] = field
	binary.BigEndian.PutUint32(p[1:5], value)
	return c.callStatus(CmdStateSet, p)
}

// DebugState retrieves the growing diagnostic snapshot.
func (c *Client) DebugState() (DebugState, error) {
	resp, err := c.Call(CmdDebugState, nil, -1)
	if err != nil {
		return DebugState{}, err
	}
	return DecodeDebugState(resp)
}

// RebootToBootloader asks the firmware to restart into its bootloader. The
// acknowledgement arrives before the restart.
func (c *Client) RebootToBootloader() error {
	return c.callStatus(CmdRebootLoader, nil)
}

// SetStreamPeriod enables (periodMs > 0) or disables (periodMs == 0) the
// unsolicited telemetry push stream. The exchange itself is an ordinary
// synchronous request/response.
func (c *Client) SetStreamPeriod(periodMs uint16) error {
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, periodMs)
	if err := c.callStatus(CmdStreamPeriod, p); err != nil {
		return err
	}
	c.mu.Lock()
	c.streaming = periodMs > 0
	c.mu.Unlock()
	return nil
}

// ReadStreamFrame blocks until the next unsolicited telemetry push arrives or
// the timeout elapses. This is the only legal read while streaming; stale
// response frames from abandoned exchanges are skipped as framing noise.
// After SetStreamPeriod(0) a subsequent call is expected to time out - that
// is the test for "stream actually stopped", not an error to suppress.
func (c *Client) ReadStreamFrame(timeout time.Duration) (TelemetryFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return TelemetryFrame{}, fmt.Errorf("%w: telemetry push", ErrTimeout)
		}
		f, err := c.fr.ReadFrame(remaining)
		if err != nil {
			return TelemetryFrame{}, err
		}
		if !f.IsPush() {
			continue
		}
		return DecodeTelemetryFrame(f.Payload())
	}
}

// ProbeSelect configures the signal probe: sampled channel, period and
// enable flag.
func (c *Client) ProbeSelect(channel byte, periodMs uint16, enable bool) error {
	p := make([]byte, 4)
	p[0] = channel
	binary.BigEndian.PutUint16(p[1:3], periodMs)
	if enable {
		p[3] = 1
	}
	return c.callStatus(CmdProbeSelect, p)
}

// ProbeSummary returns the probe ring summary and selected channel.
func (c *Client) ProbeSummary() (ProbeSummary, error) {
	resp, err := c.Call(CmdProbeSummary, nil, RingSummarySize+1)
	if err != nil {
		return ProbeSummary{}, err
	}
	return DecodeProbeSummary(resp)
}

// ProbeRead reads sampled values starting at an absolute producer offset.
func (c *Client) ProbeRead(offset uint32, limit byte) ([]uint16, error) {
	resp, err := c.Call(CmdProbeRead, encodeReadReq(offset, limit), -1)
	if err != nil {
		return nil, err
	}
	return DecodeProbeSamples(resp)
}

// ConfigGet retrieves the last committed configuration blob.
func (c *Client) ConfigGet() (ConfigBlob, error) {
	resp, err := c.Call(CmdConfigGet, nil, ConfigBlobSize)
	if err != nil {
		return ConfigBlob{}, err
	}
	return DecodeConfigBlob(resp)
}

// ConfigStage submits a blob for validation and staging. The CRC32 is
// recomputed locally before sending; the firmware recomputes and compares it
// independently. Rejections come back as typed status codes and are also
// recorded in the firmware's event log.
func (c *Client) ConfigStage(blob ConfigBlob) error {
	return c.callStatus(CmdConfigStage, blob.Encode(true))
}

// ConfigCommit makes the staged blob durable. With reboot set the firmware
// restarts after - never before - the commit lands.
func (c *Client) ConfigCommit(reboot bool) error {
	p := []byte{0}
	if reboot {
		p[0] = 1
	}
	return c.callStatus(CmdConfigCommit, p)
}

// EventSummary returns the event log ring summary.
func (c *Client) EventSummary() (RingSummary, error) {
	resp, err := c.Call(CmdEventSummary, nil, RingSummarySize)
	if err != nil {
		return RingSummary{}, err
	}
	return DecodeRingSummary(resp)
}

// EventRead reads event records starting at an absolute producer offset.
func (c *Client) EventRead(offset uint32, limit byte) ([]EventRecord, error) {
	resp, err := c.Call(CmdEventRead, encodeReadReq(offset, limit), -1)
	if err != nil {
		return nil, err
	}
	return DecodeEventRecords(resp)
}

// EventMark appends a deterministic client marker to the event log.
func (c *Client) EventMark(typ, flags byte) error {
	return c.callStatus(CmdEventMark, []byte{typ, flags})
}

// StreamLogSummary returns the stream log ring summary and sampling period.
func (c *Client) StreamLogSummary() (StreamLogSummary, error) {
	resp, err := c.Call(CmdStreamLogSummary, nil, RingSummarySize+2)
	if err != nil {
		return StreamLogSummary{}, err
	}
	return DecodeStreamLogSummary(resp)
}

// StreamLogRead reads sampled telemetry records starting at an absolute
// producer offset.
func (c *Client) StreamLogRead(offset uint32, limit byte) ([]StreamLogRecord, error) {
	resp, err := c.Call(CmdStreamLogRead, encodeReadReq(offset, limit), -1)
	if err != nil {
		return nil, err
	}
	return DecodeStreamLogRecords(resp)
}

// StreamLogControl enables or disables periodic sampling, optionally
// resetting the ring. The stream log is independent of the live push stream.
func (c *Client) StreamLogControl(enable bool, periodMs uint16, reset bool) error {
	p := make([]byte, 4)
	if enable {
		p[0] = 1
	}
	binary.BigEndian.PutUint16(p[1:3], periodMs)
	if reset {
		p[3] = 1
	}
	return c.callStatus(CmdStreamLogControl, p)
}

// BusSummary returns the bus capture ring summary, arm state and record cap.
func (c *Client) BusSummary() (BusSummary, error) {
	resp, err := c.Call(CmdBusSummary, nil, RingSummarySize+2)
	if err != nil {
		return BusSummary{}, err
	}
	return DecodeBusSummary(resp)
}

// BusRead reads captured bus records starting at an absolute producer offset.
func (c *Client) BusRead(offset uint32, limit byte) ([]BusCaptureRecord, error) {
	resp, err := c.Call(CmdBusRead, encodeReadReq(offset, limit), -1)
	if err != nil {
		return nil, err
	}
	return DecodeBusCaptureRecords(resp)
}

// BusControl enables or disables the capture ring, optionally resetting it.
func (c *Client) BusControl(enable, reset bool) error {
	p := []byte{0, 0}
	if enable {
		p[0] = 1
	}
	if reset {
		p[1] = 1
	}
	return c.callStatus(CmdBusControl, p)
}

// BusInject transmits a frame onto the inter-device bus. The firmware
// refuses with the blocked-moving status while the vehicle is in motion.
func (c *Client) BusInject(busID byte, dtMs uint16, data []byte) error {
	if len(data) > MaxCaptureData {
		return fmt.Errorf("%w: bus inject %d bytes", ErrPayloadTooLarge, len(data))
	}
	p := make([]byte, 0, 4+len(data))
	var dt [2]byte
	binary.BigEndian.PutUint16(dt[:], dtMs)
	p = append(p, busID, dt[0], dt[1], byte(len(data)))
	p = append(p, data...)
	return c.callStatus(CmdBusInject, p)
}

// BusMonitor peeks the most recently captured bus record without consuming
// it. An empty ring comes back as the capture-empty status.
func (c *Client) BusMonitor() (BusCaptureRecord, error) {
	resp, err := c.Call(CmdBusMonitor, nil, -1)
	if err != nil {
		return BusCaptureRecord{}, err
	}
	if err := checkStatus(CmdBusMonitor, resp); err != nil {
		c.fr.Stats().CountStatusReject()
		return BusCaptureRecord{}, err
	}
	recs, err := DecodeBusCaptureRecords(resp[1:])
	if err != nil {
		return BusCaptureRecord{}, err
	}
	if len(recs) == 0 {
		return BusCaptureRecord{}, fmt.Errorf("%w: monitor returned no record", ErrShortPayload)
	}
	return recs[0], nil
}

// BusArm switches the capture ring into (or out of) single-shot mode: an
// armed capture stops recording once full instead of overwriting.
func (c *Client) BusArm(arm bool) error {
	p := []byte{0}
	if arm {
		p[0] = 1
	}
	return c.callStatus(CmdBusArm, p)
}

// BusReplay re-emits previously captured frames at a bounded rate, starting
// at an absolute producer offset. Replay is cancelled by any brake edge.
func (c *Client) BusReplay(offset uint32, count byte, rateMs uint16) error {
	p := make([]byte, 7)
	binary.BigEndian.PutUint32(p[0:4], offset)
	p[4] = count
	binary.BigEndian.PutUint16(p[5:7], rateMs)
	return c.callStatus(CmdBusReplay, p)
}

// BleExchange passes raw bytes through the BLE hacker-mode channel and
// returns the peer's reply.
func (c *Client) BleExchange(data []byte) ([]byte, error) {
	if len(data) > MaxCaptureData {
		return nil, fmt.Errorf("%w: ble exchange %d bytes", ErrPayloadTooLarge, len(data))
	}
	p := append([]byte{byte(len(data))}, data...)
	resp, err := c.Call(CmdBleExchange, p, -1)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(CmdBleExchange, resp); err != nil {
		c.fr.Stats().CountStatusReject()
		return nil, err
	}
	if len(resp) < 2 || len(resp) < 2+int(resp[1]) {
		return nil, fmt.Errorf("%w: ble exchange response", ErrShortPayload)
	}
	return append([]byte(nil), resp[2:2+int(resp[1])]...), nil
}

// AbStatus retrieves the A/B firmware-slot bookkeeping.
func (c *Client) AbStatus() (AbStatus, error) {
	resp, err := c.Call(CmdAbStatus, nil, AbStatusSize)
	if err != nil {
		return AbStatus{}, err
	}
	return DecodeAbStatus(resp)
}

// AbSetPending stages a slot for activation on the next restart, or clears
// the staged transition with AbSlotNone.
func (c *Client) AbSetPending(slot byte) error {
	return c.callStatus(CmdAbSetPending, []byte{slot})
}

// MitmControl drives the BLE MITM link state machine and feeds RX/TX events
// into the capture ring.
func (c *Client) MitmControl(enable bool, event byte, data []byte) error {
	if len(data) > MaxCaptureData {
		return fmt.Errorf("%w: mitm payload %d bytes", ErrPayloadTooLarge, len(data))
	}
	p := make([]byte, 0, 3+len(data))
	en := byte(0)
	if enable {
		en = 1
	}
	p = append(p, en, event, byte(len(data)))
	p = append(p, data...)
	return c.callStatus(CmdMitmControl, p)
}

// MitmRead reads the MITM capture: header metadata plus records starting at
// an absolute producer offset.
func (c *Client) MitmRead(offset uint32, limit byte) (MitmCapture, error) {
	resp, err := c.Call(CmdMitmRead, encodeReadReq(offset, limit), -1)
	if err != nil {
		return MitmCapture{}, err
	}
	return DecodeMitmCapture(resp)
}

// CrashRead retrieves the crash dump block. A block with Magic == 0 means no
// dump is present - that is a normal result, not an error.
func (c *Client) CrashRead() (CrashDump, error) {
	resp, err := c.Call(CmdCrashRead, nil, CrashDumpSize)
	if err != nil {
		return CrashDump{}, err
	}
	return DecodeCrashDump(resp)
}

// CrashClear empties the crash dump block. Idempotent.
func (c *Client) CrashClear() error {
	return c.callStatus(CmdCrashClear, nil)
}

// CrashTrigger deliberately provokes a fault (test/developer builds) and
// returns the program-counter hint of the trigger site so tests can assert
// the captured PC lies nearby.
func (c *Client) CrashTrigger() (uint32, error) {
	resp, err := c.Call(CmdCrashTrigger, nil, 5)
	if err != nil {
		return 0, err
	}
	if err := checkStatus(CmdCrashTrigger, resp); err != nil {
		c.fr.Stats().CountStatusReject()
		return 0, err
	}
	return binary.BigEndian.Uint32(resp[1:5]), nil
}

// encodeReadReq builds the common ring read request: absolute producer
// offset plus record limit.
func encodeReadReq(offset uint32, limit byte) []byte {
	p := make([]byte, 5)
	binary.BigEndian.PutUint32(p[0:4], offset)
	p[4] = limit
	return p
}
