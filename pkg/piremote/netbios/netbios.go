// Package netbios names hosts with a NetBIOS Node Status (NBSTAT) query over
// UDP/137, the same request nmblookup -A sends. Boards running Samba answer
// it even when they publish nothing over DNS, mDNS or LLMNR.
package netbios

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	// Port is the NetBIOS Name Service port.
	Port = 137
	// DefaultTimeout bounds one lookup.
	DefaultTimeout = 2 * time.Second

	// SuffixWorkstation marks the machine name entry.
	SuffixWorkstation = 0x00
	// SuffixFileServer marks an SMB server entry.
	SuffixFileServer = 0x20

	flagGroup  = 0x8000
	flagActive = 0x0400

	headerLen = 12
	entryLen  = 18
)

// ErrNoName is returned when a host answered without a unique workstation name.
var ErrNoName = errors.New("netbios: no workstation name")

// DebugLogger is a callback for debug logging.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// Name is one entry of a node status table.
type Name struct {
	Name   string
	Suffix byte
	Group  bool
	Active bool
}

// Result is the answer of one host.
type Result struct {
	IP       string
	Hostname string // first unique workstation name
	MAC      string // unit ID from the status trailer, "" when zero
	Names    []Name
	Error    error
}

// SMB reports whether the host registered a file server name.
func (r *Result) SMB() bool {
	for _, n := range r.Names {
		if n.Suffix == SuffixFileServer && !n.Group {
			return true
		}
	}
	return false
}

// Discovery performs NBSTAT lookups.
type Discovery struct {
	Timeout time.Duration
	// Port overrides the destination port; zero means Port.
	Port int
}

// NewDiscovery creates a NetBIOS helper with defaults.
func NewDiscovery() *Discovery {
	return &Discovery{Timeout: DefaultTimeout}
}

// LookupAddr sends a unicast NBSTAT request to ip and parses the name table.
// The wait ends at the earlier of ctx's deadline and Timeout.
func (n *Discovery) LookupAddr(ctx context.Context, ip string) (*Result, error) {
	res := &Result{IP: ip}

	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		res.Error = fmt.Errorf("invalid IPv4 address: %q", ip)
		return res, res.Error
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		res.Error = fmt.Errorf("udp listen: %w", err)
		return res, res.Error
	}
	defer conn.Close()

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	port := n.Port
	if port == 0 {
		port = Port
	}
	txID := uint16(time.Now().UnixNano())
	dst := &net.UDPAddr{IP: parsed, Port: port}
	if _, err := conn.WriteTo(nodeStatusRequest(txID), dst); err != nil {
		res.Error = fmt.Errorf("send request: %w", err)
		return res, res.Error
	}

	buf := make([]byte, 2048)
	for {
		nr, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			debugLog("%s: no response: %v", ip, err)
			res.Error = fmt.Errorf("read response: %w", err)
			return res, res.Error
		}
		if u, ok := from.(*net.UDPAddr); !ok || !u.IP.Equal(parsed) {
			continue
		}
		if err := parseNodeStatus(buf[:nr], txID, res); err != nil {
			debugLog("%s: %v", ip, err)
			continue
		}
		break
	}

	if res.Hostname == "" {
		res.Error = ErrNoName
		return res, res.Error
	}
	debugLog("%s -> %s (%d names, mac %s)", ip, res.Hostname, len(res.Names), res.MAC)
	return res, nil
}

// nodeStatusRequest builds an NBSTAT question for the wildcard name "*".
func nodeStatusRequest(txID uint16) []byte {
	b := make([]byte, 0, headerLen+34+4)
	b = binary.BigEndian.AppendUint16(b, txID)
	b = binary.BigEndian.AppendUint16(b, 0) // flags
	b = binary.BigEndian.AppendUint16(b, 1) // QDCOUNT
	b = append(b, 0, 0, 0, 0, 0, 0)         // AN/NS/AR

	// First-level encoding (RFC 1001 14.1) of '*' padded with NULs.
	b = append(b, 32)
	var raw [16]byte
	raw[0] = '*'
	for _, c := range raw {
		b = append(b, 'A'+c>>4, 'A'+c&0x0F)
	}
	b = append(b, 0)

	b = binary.BigEndian.AppendUint16(b, 0x0021) // NBSTAT
	b = binary.BigEndian.AppendUint16(b, 0x0001) // IN
	return b
}

// parseNodeStatus decodes a node status response into res.
func parseNodeStatus(data []byte, txID uint16, res *Result) error {
	if len(data) < headerLen {
		return fmt.Errorf("response too short: %d bytes", len(data))
	}
	if binary.BigEndian.Uint16(data[0:2]) != txID {
		return fmt.Errorf("transaction id mismatch")
	}
	if data[2]&0x80 == 0 {
		return fmt.Errorf("not a response")
	}

	off, err := skipName(data, headerLen)
	if err != nil {
		return err
	}
	// TYPE, CLASS, TTL, RDLENGTH
	off += 10
	if off >= len(data) {
		return fmt.Errorf("truncated answer")
	}

	count := int(data[off])
	off++
	if count == 0 {
		return fmt.Errorf("empty name table")
	}

	res.Names = res.Names[:0]
	for i := 0; i < count; i++ {
		if off+entryLen > len(data) {
			return fmt.Errorf("truncated name table: %d of %d entries", i, count)
		}
		e := data[off : off+entryLen]
		flags := binary.BigEndian.Uint16(e[16:18])
		name := Name{
			Name:   strings.TrimRight(string(e[:15]), " \x00"),
			Suffix: e[15],
			Group:  flags&flagGroup != 0,
			Active: flags&flagActive != 0,
		}
		res.Names = append(res.Names, name)
		if res.Hostname == "" && name.Suffix == SuffixWorkstation && !name.Group && name.Name != "" {
			res.Hostname = name.Name
		}
		off += entryLen
	}

	if off+6 <= len(data) {
		mac := net.HardwareAddr(data[off : off+6])
		if !isZero(mac) {
			res.MAC = strings.ToUpper(mac.String())
		}
	}
	return nil
}

// skipName steps over an encoded or compressed name starting at off.
func skipName(data []byte, off int) (int, error) {
	for off < len(data) {
		l := int(data[off])
		switch {
		case l == 0:
			return off + 1, nil
		case l&0xC0 == 0xC0:
			return off + 2, nil
		}
		off += l + 1
	}
	return 0, fmt.Errorf("truncated name")
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
