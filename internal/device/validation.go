package device

import (
	"fmt"
	"net"
	"strings"
)

// maxNameLength bounds display names to keep UI layouts sane.
const maxNameLength = 128

// supportedVersions are the Tuya local protocol versions the transport
// layer understands.
var supportedVersions = map[string]bool{
	"3.1": true,
	"3.2": true,
	"3.3": true,
	"3.4": true,
	"3.5": true,
}

// Validate checks a Record for structural validity before it enters the
// registry. It does not verify the device is reachable.
func Validate(r *Record) error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if strings.ContainsAny(r.ID, " \t\n/") {
		return fmt.Errorf("%w: id %q contains whitespace or slash", ErrInvalidRecord, r.ID)
	}
	if len(r.DisplayName) > maxNameLength {
		return fmt.Errorf("%w: display name exceeds %d characters", ErrInvalidRecord, maxNameLength)
	}
	if r.Address != "" {
		if err := validateAddress(r.Address); err != nil {
			return err
		}
	}
	if r.ProtocolVersion != "" && !supportedVersions[r.ProtocolVersion] {
		return fmt.Errorf("%w: unsupported protocol version %q", ErrInvalidRecord, r.ProtocolVersion)
	}
	switch r.Kind {
	case KindBulb, KindOutlet, KindSwitch, KindGeneric:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
	return nil
}

// validateAddress accepts an IP address or a host:port pair.
// Tuya broadcast announcements carry bare IPs; operators sometimes
// configure an explicit port.
func validateAddress(addr string) error {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if host == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidRecord)
	}
	if ip := net.ParseIP(host); ip == nil {
		// Not an IP literal; accept hostnames but reject obvious junk.
		if strings.ContainsAny(host, " \t\n") {
			return fmt.Errorf("%w: address %q", ErrInvalidRecord, addr)
		}
	}
	return nil
}
