/*
 *  Copyright (C) 2005-2020 Team Kodi
 *  https://kodi.tv
 *
 *  SPDX-License-Identifier: GPL-2.0-or-later
 *  See LICENSE.md for more information.
 */

package rtsp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/octosock/octosock-go"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// DefaultPort is the RTSP control port used when the URL does not
	// carry one.
	DefaultPort = 554

	// defaultSessionTimeout applies when the server grants a session
	// without a timeout parameter.
	defaultSessionTimeout = 60 * time.Second

	// maxDatagram bounds a single RTP or RTCP datagram.
	maxDatagram = 65536

	// portPairAttempts limits the search for an even/odd RTP/RTCP port
	// pair.
	portPairAttempts = 10

	rtcpTypeApp = 204
)

var (
	// ErrNotOpen is returned when the session has not been opened or was
	// already closed.
	ErrNotOpen = errors.New("rtsp: session is not open")
	// ErrStatus is returned when the server answers a request with a
	// non-OK status code.
	ErrStatus = errors.New("rtsp: request refused by server")
	// ErrBadResponse is returned when a server response cannot be
	// parsed.
	ErrBadResponse = errors.New("rtsp: malformed response")
)

// TraceHandler receives advisory trace messages.
type TraceHandler func(e gxcommon.TraceEventArgs)

// StateHandler receives session state changes.
type StateHandler func(e gxcommon.MediaStateEventArgs)

// ErrorHandler receives errors observed on background paths such as the
// keep-alive, where no caller is available to return them to.
type ErrorHandler func(err error)

// tunerStatus is the last tuner report from the server: RTCP "SES1"
// description or DESCRIBE SDP.
type tunerStatus struct {
	frontend int
	level    int // 0..255
	lock     bool
	quality  int // 0..15
}

// Client is a Sat>IP style RTSP session: a TCP control connection plus an
// RTP/RTCP UDP socket pair, all built on the octosock socket core. Open
// establishes the session, Read delivers the media payload stream and
// FillSignalStatus reports the tuner metrics the server publishes out of
// band.
type Client struct {
	name    string
	host    string
	port    uint16
	query   string
	session string
	stream  int
	cseq    int

	control *octosock.Socket
	rtp     *octosock.Socket
	rtcp    *octosock.Socket
	buf     []byte

	timeout       time.Duration
	lastKeepAlive time.Time

	mu        sync.Mutex
	tuner     tunerStatus
	haveTuner bool

	bytesSent     uint64
	bytesReceived uint64

	traceLevel gxcommon.TraceLevel
	onTrace    TraceHandler
	onState    StateHandler
	onErr      ErrorHandler

	// Printer for localized messages.
	p *message.Printer
}

// NewClient creates a closed Client; call Open to establish a session.
func NewClient() *Client {
	c := &Client{timeout: defaultSessionTimeout}
	c.Localize(language.AmericanEnglish)
	return c
}

// String returns the session endpoint as host:port.
func (c *Client) String() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// GetName returns the name the session was opened under.
func (c *Client) GetName() string {
	return c.name
}

// IsOpen reports whether the session is established.
func (c *Client) IsOpen() bool {
	return c.control != nil && c.control.IsValid()
}

// GetBytesSent returns the number of control bytes sent.
func (c *Client) GetBytesSent() uint64 {
	return c.bytesSent
}

// GetBytesReceived returns the number of media payload bytes delivered.
func (c *Client) GetBytesReceived() uint64 {
	return c.bytesReceived
}

// ResetByteCounters resets both byte counters.
func (c *Client) ResetByteCounters() {
	c.bytesSent = 0
	c.bytesReceived = 0
}

// GetTrace returns the current trace level.
func (c *Client) GetTrace() gxcommon.TraceLevel {
	return c.traceLevel
}

// SetTrace sets the trace level; messages above it are suppressed.
func (c *Client) SetTrace(traceLevel gxcommon.TraceLevel) error {
	c.traceLevel = traceLevel
	return nil
}

// SetOnTrace registers the trace message handler.
func (c *Client) SetOnTrace(value TraceHandler) {
	c.mu.Lock()
	c.onTrace = value
	c.mu.Unlock()
}

// SetOnError registers the background error handler.
func (c *Client) SetOnError(value ErrorHandler) {
	c.mu.Lock()
	c.onErr = value
	c.mu.Unlock()
}

// SetOnMediaStateChange registers the session state handler.
func (c *Client) SetOnMediaStateChange(value StateHandler) {
	c.mu.Lock()
	c.onState = value
	c.mu.Unlock()
}

// Open establishes an RTSP session for the given stream URL: connects the
// control socket, allocates the RTP/RTCP port pair, then issues SETUP and
// PLAY. name identifies the session in diagnostics and signal status
// reports.
func (c *Client) Open(name, rawURL string) error {
	if c.IsOpen() {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("rtsp: parse url: %w", err)
	}
	if u.Scheme != "rtsp" {
		return fmt.Errorf("%w: scheme %q", ErrBadResponse, u.Scheme)
	}
	host := u.Hostname()
	port := uint16(DefaultPort)
	if p := u.Port(); p != "" {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return fmt.Errorf("rtsp: parse url port: %w", err)
		}
		port = uint16(v)
	}

	c.statef(gxcommon.MediaStateOpening)
	c.trace(gxcommon.TraceTypesInfo, c.p.Sprintf("msg.connecting", host, port))

	c.name = name
	c.host = host
	c.port = port
	c.query = u.RawQuery
	c.cseq = 0
	c.session = ""
	c.buf = make([]byte, maxDatagram)

	c.control = octosock.NewSocket()
	if err := c.control.Connect(host, port); err != nil {
		c.teardown()
		c.errorf(err)
		return err
	}
	if err := c.bindMediaPorts(); err != nil {
		c.teardown()
		c.errorf(err)
		return err
	}
	if err := c.setup(); err != nil {
		c.teardown()
		c.errorf(err)
		return err
	}
	if err := c.play(); err != nil {
		c.teardown()
		c.errorf(err)
		return err
	}
	// RTCP is drained opportunistically from the Read path.
	if err := c.rtcp.SetNonBlocking(true); err != nil {
		c.teardown()
		return err
	}
	c.lastKeepAlive = time.Now()
	c.trace(gxcommon.TraceTypesInfo, c.p.Sprintf("msg.session_open", c.session, c.stream))
	c.statef(gxcommon.MediaStateOpen)
	return nil
}

// Close tears the session down: a best-effort TEARDOWN on the control
// connection, then all three sockets are released. Closing a closed Client
// is a no-op.
func (c *Client) Close() error {
	if !c.IsOpen() {
		return nil
	}
	c.statef(gxcommon.MediaStateClosing)
	if c.session != "" {
		// Best effort; the server reclaims the session on timeout
		// anyway.
		if _, err := c.request("TEARDOWN", c.streamTarget(), nil); err != nil {
			c.errorf(err)
		}
	}
	c.teardown()
	c.trace(gxcommon.TraceTypesInfo, c.p.Sprintf("msg.session_closed", c.host, c.port))
	c.statef(gxcommon.MediaStateClosed)
	return nil
}

func (c *Client) teardown() {
	for _, s := range []*octosock.Socket{c.rtp, c.rtcp, c.control} {
		if s != nil {
			_ = s.Close()
		}
	}
	c.rtp, c.rtcp, c.control = nil, nil, nil
	c.session = ""
	c.mu.Lock()
	c.haveTuner = false
	c.mu.Unlock()
}

// Read blocks until one RTP media datagram arrives and copies its payload
// into p, returning the payload length. It also drains pending RTCP tuner
// reports and refreshes the session keep-alive. Read implements io.Reader.
func (c *Client) Read(p []byte) (int, error) {
	if !c.IsOpen() {
		return 0, ErrNotOpen
	}
	c.keepAlive()
	c.pollRTCP()
	for {
		n, _, err := c.rtp.RecvFrom(c.buf)
		if err != nil {
			return 0, err
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(c.buf[:n]); err != nil {
			c.tracef(gxcommon.TraceTypesError, "RX dropped malformed RTP datagram: %v", err)
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		copied := copy(p, pkt.Payload)
		c.bytesReceived += uint64(copied)
		return copied, nil
	}
}

// FillSignalStatus reports the tuner metrics from the most recent RTCP
// report. When no report has arrived yet it falls back to a DESCRIBE
// request. Level (0..255) and quality (0..15) are scaled to the full
// 16-bit range.
func (c *Client) FillSignalStatus(status *SignalStatus) error {
	if !c.IsOpen() {
		return ErrNotOpen
	}
	c.pollRTCP()
	c.mu.Lock()
	have, t := c.haveTuner, c.tuner
	c.mu.Unlock()
	if !have {
		if err := c.Describe(); err != nil {
			return err
		}
		c.mu.Lock()
		have, t = c.haveTuner, c.tuner
		c.mu.Unlock()
		if !have {
			return fmt.Errorf("%w: no tuner description", ErrBadResponse)
		}
	}
	status.AdapterName = fmt.Sprintf("%s frontend %d", c.name, t.frontend)
	if t.lock {
		status.AdapterStatus = "Locked"
	} else {
		status.AdapterStatus = "No lock"
	}
	status.Locked = t.lock
	status.Signal = scale16(t.level, 255)
	status.SNR = scale16(t.quality, 15)
	return nil
}

// Describe issues a DESCRIBE for the running stream and refreshes the
// tuner report from the SDP answer; Sat>IP servers publish it in the fmtp
// attribute of the media description.
func (c *Client) Describe() error {
	if !c.IsOpen() {
		return ErrNotOpen
	}
	resp, err := c.request("DESCRIBE", c.streamTarget(), map[string]string{"Accept": "application/sdp"})
	if err != nil {
		return err
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(resp.body); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	for _, m := range sd.MediaDescriptions {
		for _, a := range m.Attributes {
			if strings.Contains(a.Value, "tuner=") {
				c.parseTuner(a.Value)
			}
		}
	}
	return nil
}

// streamTarget is the request URL of the running stream.
func (c *Client) streamTarget() string {
	target := fmt.Sprintf("rtsp://%s:%d/stream=%d", c.host, c.port, c.stream)
	if c.query != "" {
		target += "?" + c.query
	}
	return target
}

// setup allocates the server-side session: SETUP with the client RTP/RTCP
// port pair, answered with the session identifier, its timeout and the
// Sat>IP stream id.
func (c *Client) setup() error {
	target := fmt.Sprintf("rtsp://%s:%d/?%s", c.host, c.port, c.query)
	transport := fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", c.rtp.Port(), c.rtcp.Port())
	resp, err := c.request("SETUP", target, map[string]string{"Transport": transport})
	if err != nil {
		return err
	}
	session := resp.headers["session"]
	if session == "" {
		return fmt.Errorf("%w: missing Session header", ErrBadResponse)
	}
	if id, rest, found := strings.Cut(session, ";"); found {
		c.session = strings.TrimSpace(id)
		if v, ok := strings.CutPrefix(strings.TrimSpace(rest), "timeout="); ok {
			if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
				c.timeout = time.Duration(secs) * time.Second
			}
		}
	} else {
		c.session = strings.TrimSpace(session)
	}
	streamID := resp.headers["com.ses.streamid"]
	if streamID == "" {
		return fmt.Errorf("%w: missing com.ses.streamID header", ErrBadResponse)
	}
	id, err := strconv.Atoi(strings.TrimSpace(streamID))
	if err != nil {
		return fmt.Errorf("%w: com.ses.streamID %q", ErrBadResponse, streamID)
	}
	c.stream = id
	return nil
}

func (c *Client) play() error {
	_, err := c.request("PLAY", c.streamTarget(), nil)
	return err
}

// keepAlive refreshes the server session with an OPTIONS request once half
// of the granted timeout has elapsed. Failures are reported through the
// error handler only; the media path keeps running until the transport
// actually drops.
func (c *Client) keepAlive() {
	if time.Since(c.lastKeepAlive) < c.timeout/2 {
		return
	}
	c.lastKeepAlive = time.Now()
	target := fmt.Sprintf("rtsp://%s:%d/", c.host, c.port)
	if _, err := c.request("OPTIONS", target, nil); err != nil {
		c.errorf(err)
	}
}

// bindMediaPorts allocates the UDP socket pair the server will stream to.
// RTP must sit on an even port with RTCP on the next odd one.
func (c *Client) bindMediaPorts() error {
	for i := 0; i < portPairAttempts; i++ {
		rtpSock := octosock.NewSocketWith(octosock.FamilyIPv4, octosock.DomainInet, octosock.TypeDatagram, octosock.ProtocolUDP)
		if err := rtpSock.Create(); err != nil {
			return err
		}
		if err := rtpSock.Bind(0); err != nil {
			_ = rtpSock.Close()
			return err
		}
		base := rtpSock.Port()
		if base%2 != 0 {
			_ = rtpSock.Close()
			continue
		}
		rtcpSock := octosock.NewSocketWith(octosock.FamilyIPv4, octosock.DomainInet, octosock.TypeDatagram, octosock.ProtocolUDP)
		if err := rtcpSock.Create(); err != nil {
			_ = rtpSock.Close()
			return err
		}
		if err := rtcpSock.Bind(base + 1); err != nil {
			// Neighbor port taken; try another pair.
			_ = rtcpSock.Close()
			_ = rtpSock.Close()
			continue
		}
		c.rtp = rtpSock
		c.rtcp = rtcpSock
		return nil
	}
	return fmt.Errorf("rtsp: no even/odd RTP/RTCP port pair available after %d attempts", portPairAttempts)
}

// response is one parsed RTSP answer.
type response struct {
	status  int
	reason  string
	headers map[string]string
	body    []byte
}

// request sends one RTSP request on the control connection and reads the
// answer. A non-2xx status is returned as ErrStatus.
func (c *Client) request(method, target string, headers map[string]string) (*response, error) {
	c.cseq++
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\nCSeq: %d\r\n", method, target, c.cseq)
	if c.session != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", c.session)
	}
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")

	c.tracef(gxcommon.TraceTypesSent, "TX: %s", b.String())
	n, err := c.control.SendAll(b.String())
	if err != nil {
		return nil, err
	}
	c.bytesSent += uint64(n)

	resp, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	if resp.status < 200 || resp.status > 299 {
		return nil, fmt.Errorf("%s: %w (%d %s)", c.p.Sprintf("msg.status", method, resp.status), ErrStatus, resp.status, resp.reason)
	}
	return resp, nil
}

// readResponse parses one RTSP response from the control connection:
// status line, headers until the empty line, then a Content-Length body.
func (c *Client) readResponse() (*response, error) {
	line, err := c.control.ReadLine()
	if err != nil {
		return nil, err
	}
	proto, rest, found := strings.Cut(line, " ")
	if !found || !strings.HasPrefix(proto, "RTSP/") {
		return nil, fmt.Errorf("%w: status line %q", ErrBadResponse, line)
	}
	code, reason, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(code)
	if err != nil {
		return nil, fmt.Errorf("%w: status line %q", ErrBadResponse, line)
	}
	resp := &response{status: status, reason: reason, headers: make(map[string]string)}
	for {
		line, err := c.control.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		k, v, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("%w: header line %q", ErrBadResponse, line)
		}
		resp.headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	if cl := resp.headers["content-length"]; cl != "" {
		size, err := strconv.Atoi(cl)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("%w: content-length %q", ErrBadResponse, cl)
		}
		if size > 0 {
			resp.body = make([]byte, size)
			if _, err := c.control.Receive(resp.body, size); err != nil {
				return nil, err
			}
		}
	}
	c.tracef(gxcommon.TraceTypesReceived, "RX: %d %s", resp.status, resp.reason)
	return resp, nil
}

// pollRTCP drains pending RTCP datagrams without blocking and keeps the
// last tuner report.
func (c *Client) pollRTCP() {
	if c.rtcp == nil {
		return
	}
	for {
		n, _, err := c.rtcp.RecvFrom(c.buf)
		if err != nil {
			// Would-block ends the drain; anything else is advisory
			// here, the media path will surface real failures.
			return
		}
		c.parseRTCP(c.buf[:n])
	}
}

// parseRTCP walks an RTCP compound packet looking for the Sat>IP APP
// packet named SES1; its payload is the tuner description string.
func (c *Client) parseRTCP(data []byte) {
	for len(data) >= 8 {
		if data[0]>>6 != 2 {
			return
		}
		plen := (int(binary.BigEndian.Uint16(data[2:4])) + 1) * 4
		if plen <= 0 || plen > len(data) {
			return
		}
		if data[1] == rtcpTypeApp && plen >= 16 && string(data[8:12]) == "SES1" {
			strLen := int(binary.BigEndian.Uint16(data[14:16]))
			if 16+strLen <= plen {
				c.parseTuner(string(data[16 : 16+strLen]))
			}
		}
		data = data[plen:]
	}
}

// parseTuner extracts the frontend, level, lock and quality fields from a
// Sat>IP tuner description, e.g.
// "ver=1.0;src=1;tuner=1,240,1,15,11362,h,dvbs,,,,22000,23;pids=0,17,18".
func (c *Client) parseTuner(desc string) {
	i := strings.Index(desc, "tuner=")
	if i < 0 {
		return
	}
	list := desc[i+len("tuner="):]
	if j := strings.IndexByte(list, ';'); j >= 0 {
		list = list[:j]
	}
	fields := strings.Split(list, ",")
	if len(fields) < 4 {
		return
	}
	frontend, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return
	}
	level, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return
	}
	lock, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return
	}
	quality, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil {
		return
	}
	c.mu.Lock()
	c.tuner = tunerStatus{frontend: frontend, level: level, lock: lock != 0, quality: quality}
	c.haveTuner = true
	c.mu.Unlock()
	c.tracef(gxcommon.TraceTypesInfo, "tuner report: fe=%d level=%d lock=%d quality=%d", frontend, level, lock, quality)
}

// scale16 maps v in 0..max onto the full unsigned 16 bit range.
func scale16(v, max int) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= max {
		return 0xFFFF
	}
	return uint16(v * 0xFFFF / max)
}

func (c *Client) errorf(err error) {
	c.mu.Lock()
	cb := c.onErr
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (c *Client) tracef(traceType gxcommon.TraceTypes, fmtStr string, a ...any) {
	c.mu.Lock()
	trace := !(int(c.traceLevel) < int(traceType))
	cb := c.onTrace
	c.mu.Unlock()
	if cb != nil && trace {
		cb(*gxcommon.NewTraceEventArgs(traceType, fmt.Sprintf(fmtStr, a...), ""))
	}
}

func (c *Client) trace(traceType gxcommon.TraceTypes, message string) {
	c.mu.Lock()
	trace := !(int(c.traceLevel) < int(traceType))
	cb := c.onTrace
	c.mu.Unlock()
	if cb != nil && trace {
		cb(*gxcommon.NewTraceEventArgs(traceType, message, ""))
	}
}

func (c *Client) statef(state gxcommon.MediaState) {
	c.mu.Lock()
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(*gxcommon.NewMediaStateEventArgs(state))
	}
}

//nolint:errcheck
func init() {
	// --- English (default) ---
	message.SetString(language.AmericanEnglish, "msg.connecting", "RTSP connecting to %s:%d")
	message.SetString(language.AmericanEnglish, "msg.session_open", "RTSP session %s open, stream %d")
	message.SetString(language.AmericanEnglish, "msg.session_closed", "RTSP session closed to %s:%d")
	message.SetString(language.AmericanEnglish, "msg.status", "%s request failed with status %d")

	// --- German (de) ---
	message.SetString(language.German, "msg.connecting", "RTSP verbindet sich mit %s:%d")
	message.SetString(language.German, "msg.session_open", "RTSP-Sitzung %s geöffnet, Stream %d")
	message.SetString(language.German, "msg.session_closed", "RTSP-Sitzung zu %s:%d geschlossen")
	message.SetString(language.German, "msg.status", "%s-Anfrage fehlgeschlagen mit Status %d")

	// --- Finnish (fi) ---
	message.SetString(language.Finnish, "msg.connecting", "RTSP yhdistetään kohteeseen %s:%d")
	message.SetString(language.Finnish, "msg.session_open", "RTSP-istunto %s avattu, stream %d")
	message.SetString(language.Finnish, "msg.session_closed", "RTSP-istunto suljettu kohteeseen %s:%d")
	message.SetString(language.Finnish, "msg.status", "%s-pyyntö epäonnistui tilalla %d")

	// --- Swedish (sv) ---
	message.SetString(language.Swedish, "msg.connecting", "RTSP ansluter till %s:%d")
	message.SetString(language.Swedish, "msg.session_open", "RTSP-session %s öppnad, stream %d")
	message.SetString(language.Swedish, "msg.session_closed", "RTSP-session stängd till %s:%d")
	message.SetString(language.Swedish, "msg.status", "%s-begäran misslyckades med status %d")
}

// Localize messages for the specified language.
// No error is returned if the language is not supported.
func (c *Client) Localize(language language.Tag) {
	c.p = message.NewPrinter(language)
}
