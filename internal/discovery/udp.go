package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/nerrad567/tuyalink-core/internal/infrastructure/logging"
)

// DecodeFunc turns a raw broadcast datagram into a JSON announcement
// payload. Protocol 3.3+ broadcasts are encrypted; the cipher lives in the
// transport layer and is injected here so this package stays wire-agnostic.
type DecodeFunc func(datagram []byte) ([]byte, error)

// maxDatagram is larger than any observed announcement packet.
const maxDatagram = 2048

// readDeadline bounds each socket read so the listener notices a
// cancelled context promptly.
const readDeadline = 500 * time.Millisecond

// UDPSource listens for device presence broadcasts on a UDP port.
// Tuya devices announce themselves every few seconds on port 6667.
type UDPSource struct {
	port   int
	decode DecodeFunc
	logger *logging.Logger
}

// NewUDPSource creates a broadcast listener. decode may be nil, in which
// case datagrams are treated as plaintext JSON with the standard Tuya
// frame envelope stripped when present.
func NewUDPSource(port int, decode DecodeFunc, logger *logging.Logger) *UDPSource {
	if decode == nil {
		decode = StripFrame
	}
	return &UDPSource{
		port:   port,
		decode: decode,
		logger: logger.With("component", "discovery_udp"),
	}
}

// Announcements binds the broadcast port and emits decoded announcements
// until ctx ends. The channel is closed once the socket is torn down.
func (u *UDPSource) Announcements(ctx context.Context) (<-chan Announcement, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: u.port})
	if err != nil {
		return nil, fmt.Errorf("binding udp port %d: %w", u.port, err)
	}

	out := make(chan Announcement)
	go func() {
		defer close(out)
		defer conn.Close()

		buf := make([]byte, maxDatagram)
		for {
			if ctx.Err() != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(readDeadline)) //nolint:errcheck
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				u.logger.Warn("broadcast read failed", "error", err)
				return
			}

			ann, err := u.parse(buf[:n])
			if err != nil {
				u.logger.Debug("undecodable broadcast dropped",
					"from", addr.String(), "bytes", n, "error", err)
				continue
			}
			select {
			case out <- ann:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// parse decodes one datagram into an announcement.
func (u *UDPSource) parse(datagram []byte) (Announcement, error) {
	payload, err := u.decode(datagram)
	if err != nil {
		return Announcement{}, fmt.Errorf("decoding broadcast: %w", err)
	}

	// Devices disagree on field names across firmware generations.
	var body struct {
		GwID    string `json:"gwId"`
		ID      string `json:"id"`
		IP      string `json:"ip"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Announcement{}, fmt.Errorf("parsing announcement: %w", err)
	}

	id := body.GwID
	if id == "" {
		id = body.ID
	}
	return Announcement{
		ID:              id,
		Address:         body.IP,
		ProtocolVersion: body.Version,
	}, nil
}

// tuyaPrefix opens every framed Tuya packet; the 16-byte header that
// follows carries sequence, command and length words.
var tuyaPrefix = []byte{0x00, 0x00, 0x55, 0xaa}

// frameOverhead is header (20 bytes incl. prefix) plus CRC and suffix (8).
const frameOverhead = 28

// StripFrame removes the Tuya packet envelope from a plaintext broadcast,
// leaving the JSON payload. Unframed input passes through untouched.
func StripFrame(datagram []byte) ([]byte, error) {
	if !bytes.HasPrefix(datagram, tuyaPrefix) {
		return datagram, nil
	}
	if len(datagram) < frameOverhead {
		return nil, fmt.Errorf("framed broadcast too short: %d bytes", len(datagram))
	}
	return datagram[20 : len(datagram)-8], nil
}
