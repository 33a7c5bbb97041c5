// Package pktgen builds UDP/IPv4 test traffic carrying a sequence number
// in the first 4 payload bytes.
package pktgen

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	headerLen = 14 + 20 + 8
	seqLen    = 4

	// minSeqFrame is the smallest frame able to carry a sequence number.
	minSeqFrame = headerLen + seqLen
	// MinSize is the Ethernet minimum without FCS. Shorter frames would be
	// padded to it on serialization.
	MinSize = 60
	// MaxSize is bounded by the IPv4 total length field.
	MaxSize = 14 + 0xffff
)

var ErrInvalidAddr = errors.New("invalid address")

type Config struct {
	SrcMAC, DstMAC   net.HardwareAddr
	SrcIP, DstIP     net.IP
	SrcPort, DstPort uint16
	// Size is the frame length including the Ethernet header.
	// Smaller values are raised to MinSize.
	Size int
}

// Template is a serialized frame whose sequence number is patched per
// packet. The UDP checksum is left zero, which IPv4 permits, so patching
// does not require recomputing it.
type Template struct {
	conf  Config
	frame []byte
}

func NewTemplate(conf Config) (*Template, error) {
	if len(conf.SrcMAC) != 6 || len(conf.DstMAC) != 6 {
		return nil, fmt.Errorf("MAC: %w", ErrInvalidAddr)
	}
	if conf.SrcIP = conf.SrcIP.To4(); conf.SrcIP == nil {
		return nil, fmt.Errorf("source IPv4: %w", ErrInvalidAddr)
	}
	if conf.DstIP = conf.DstIP.To4(); conf.DstIP == nil {
		return nil, fmt.Errorf("destination IPv4: %w", ErrInvalidAddr)
	}
	if conf.Size > MaxSize {
		return nil, fmt.Errorf("frame size %d exceeds %d", conf.Size, MaxSize)
	}
	conf.Size = max(conf.Size, MinSize)

	eth := &layers.Ethernet{
		SrcMAC:       conf.SrcMAC,
		DstMAC:       conf.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    conf.SrcIP,
		DstIP:    conf.DstIP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(conf.SrcPort),
		DstPort: layers.UDPPort(conf.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	payload := gopacket.Payload(make([]byte, conf.Size-headerLen))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload); err != nil {
		return nil, fmt.Errorf("serializing template: %w", err)
	}
	frame := buf.Bytes()
	binary.BigEndian.PutUint16(frame[headerLen-2:], 0) // UDP checksum
	return &Template{conf: conf, frame: frame}, nil
}

// Len returns the frame length.
func (t *Template) Len() int { return len(t.frame) }

// Build writes the frame with sequence number seq into dst and returns the
// number of bytes written. dst must hold at least Len bytes.
func (t *Template) Build(dst []byte, seq uint32) int {
	n := copy(dst, t.frame)
	binary.BigEndian.PutUint32(dst[headerLen:], seq)
	return n
}

// Match reports whether frame belongs to the flow of the template and
// returns its sequence number. MACs, TTL and checksums are not compared
// since forwarding may rewrite them.
func (t *Template) Match(frame []byte) (seq uint32, ok bool) {
	if len(frame) < minSeqFrame {
		return 0, false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != uint16(layers.EthernetTypeIPv4) {
		return 0, false
	}
	ip := frame[14:]
	if ip[0] != 0x45 || ip[9] != byte(layers.IPProtocolUDP) {
		return 0, false
	}
	if !net.IP(ip[12:16]).Equal(t.conf.SrcIP) || !net.IP(ip[16:20]).Equal(t.conf.DstIP) {
		return 0, false
	}
	udp := ip[20:]
	if binary.BigEndian.Uint16(udp[0:2]) != t.conf.SrcPort ||
		binary.BigEndian.Uint16(udp[2:4]) != t.conf.DstPort {
		return 0, false
	}
	return binary.BigEndian.Uint32(udp[8:]), true
}
