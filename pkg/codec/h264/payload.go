// Package h264 payloads and depayloads H.264 NAL units to and from RTP,
// ported from the project's original Rust H264Payloader/H264DePayloader
// (Annex B bitstream in, RFC 6184 STAP-A/FU-A packets out).
package h264

import "fmt"

const (
	nalHeaderNRIMask  = 0b0110_0000
	nalHeaderTypeMask = 0b0001_1111

	nalUnitIDR   = 5
	nalUnitSPS   = 7
	nalUnitPPS   = 8
	nalUnitAUD   = 9
	nalUnitSEI   = 12
	nalUnitSTAPA = 24
	nalUnitFUA   = 28

	fuaHeaderLen = 2
	fuaStartBit  = 1 << 7
	fuaEndBit    = 1 << 6
)

// PacketizationMode selects between emitting one RTP packet per NAL unit
// (SingleNAL, used when every NAL unit is known to fit the path MTU) and
// the general STAP-A/FU-A scheme.
type PacketizationMode int

const (
	ModeNonInterleaved PacketizationMode = iota
	ModeSingleNAL
)

// Payloader converts an Annex-B H.264 bitstream into RTP payloads. It
// holds SPS/PPS across calls so the two can be combined into a single
// STAP-A packet the way encoders typically emit them back to back.
type Payloader struct {
	mode PacketizationMode
	sps  []byte
	pps  []byte
}

// NewPayloader creates a Payloader in the given packetization mode.
func NewPayloader(mode PacketizationMode) *Payloader {
	return &Payloader{mode: mode}
}

// Payload splits an Annex-B bitstream (one or more NAL units separated by
// 00 00 01 / 00 00 00 01 start codes) into RTP payloads no larger than
// maxSize bytes, fragmenting with FU-A as needed.
func (p *Payloader) Payload(bitstream []byte, maxSize int) [][]byte {
	if len(bitstream) == 0 {
		return nil
	}

	if p.mode == ModeSingleNAL {
		return nalUnits(bitstream)
	}

	var out [][]byte
	for _, nal := range nalUnits(bitstream) {
		p.payloadNALUnit(nal, maxSize, &out)
	}
	return out
}

func (p *Payloader) payloadNALUnit(nal []byte, maxSize int, out *[][]byte) {
	if len(nal) == 0 || maxSize == 0 {
		return
	}

	nalType := nal[0] & nalHeaderTypeMask
	nalRefIdc := nal[0] & nalHeaderNRIMask

	switch nalType {
	case nalUnitAUD, nalUnitSEI:
		return // discardable: not required for playback
	case nalUnitSPS:
		p.sps = nal
		return
	case nalUnitPPS:
		p.pps = nal
		return
	}

	if p.sps != nil && p.pps != nil {
		stapLen := 1 + 2 + len(p.sps) + 2 + len(p.pps)
		if stapLen <= maxSize {
			stap := make([]byte, 0, stapLen)
			stap = append(stap, 0x78) // STAP-A NAL header: F=0,NRI=3,Type=24
			stap = appendU16(stap, uint16(len(p.sps)))
			stap = append(stap, p.sps...)
			stap = appendU16(stap, uint16(len(p.pps)))
			stap = append(stap, p.pps...)
			*out = append(*out, stap)
		} else {
			*out = append(*out, p.sps, p.pps)
		}
		p.sps, p.pps = nil, nil
	}

	if len(nal) <= maxSize {
		*out = append(*out, nal)
		return
	}

	if maxSize < 3 {
		maxSize = 3 // FU-A needs at least 1 indicator + 1 header + 1 payload byte
	}

	payload := nal[1:] // the original NAL header byte is replaced by the FU indicator+header
	chunkSize := maxSize - fuaHeaderLen

	for i := 0; i*chunkSize < len(payload); i++ {
		start := i * chunkSize
		end := start + chunkSize
		last := end >= len(payload)
		if last {
			end = len(payload)
		}
		chunk := payload[start:end]

		fua := make([]byte, 0, len(chunk)+fuaHeaderLen)
		fua = append(fua, nalUnitFUA|nalRefIdc)
		switch {
		case i == 0:
			fua = append(fua, nalType|fuaStartBit)
		case last:
			fua = append(fua, nalType|fuaEndBit)
		default:
			fua = append(fua, nalType)
		}
		fua = append(fua, chunk...)
		*out = append(*out, fua)
	}
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// nalUnits splits an Annex-B bitstream on 00 00 01 / 00 00 00 01 start
// codes, discarding the start codes themselves and any resulting empty
// units.
func nalUnits(bitstream []byte) [][]byte {
	var units [][]byte
	rest := bitstream

	for len(rest) > 0 {
		prefixLen, nalEnd, found := nextNALPrefix(rest)
		if !found {
			units = append(units, rest)
			break
		}
		if nalEnd > 0 {
			units = append(units, rest[:nalEnd])
		}
		rest = rest[nalEnd+prefixLen:]
	}
	return units
}

// nextNALPrefix finds the next start code in rest and returns its length
// (3 or 4 bytes) and the offset at which the preceding NAL unit ends.
func nextNALPrefix(rest []byte) (prefixLen, nalEnd int, found bool) {
	zeroCount := 0
	for i, b := range rest {
		switch {
		case b == 0:
			zeroCount++
		case b == 1 && zeroCount >= 2:
			return zeroCount + 1, i - zeroCount, true
		default:
			zeroCount = 0
		}
	}
	return 0, 0, false
}

// DepayloadFormat selects the prefix DePayloader writes ahead of each
// reassembled NAL unit.
type DepayloadFormat int

const (
	FormatAnnexB DepayloadFormat = iota
	FormatAVC
)

var annexBStartCode = []byte{0, 0, 0, 1}

// DePayloader reassembles RTP H.264 payloads (single NAL, STAP-A, or FU-A)
// back into a bitstream of complete NAL units.
type DePayloader struct {
	format DepayloadFormat
	fua    []byte
}

// NewDePayloader creates a DePayloader that prefixes reassembled NAL units
// per format.
func NewDePayloader(format DepayloadFormat) *DePayloader {
	return &DePayloader{format: format}
}

// Reset clears in-progress FU-A reassembly state, used after a detected
// packet loss so a partial fragment is not emitted as if complete.
func (d *DePayloader) Reset() {
	d.fua = nil
}

// Depayload extracts zero or more complete NAL units from one RTP payload.
func (d *DePayloader) Depayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("h264: empty packet")
	}

	nalType := payload[0] & nalHeaderTypeMask

	switch {
	case nalType == nalUnitSTAPA:
		return d.depayloadSTAPA(payload)
	case nalType == nalUnitFUA:
		return d.depayloadFUA(payload)
	default:
		return d.prefixed(payload), nil
	}
}

func (d *DePayloader) prefixed(nal []byte) []byte {
	out := make([]byte, 0, len(annexBStartCode)+len(nal))
	if d.format == FormatAVC {
		out = appendU32(out, uint32(len(nal)))
	} else {
		out = append(out, annexBStartCode...)
	}
	return append(out, nal...)
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (d *DePayloader) depayloadSTAPA(payload []byte) ([]byte, error) {
	var out []byte
	rest := payload[1:]
	for len(rest) > 0 {
		if len(rest) < 2 {
			return nil, fmt.Errorf("h264: STAP-A packet contained invalid length")
		}
		size := int(rest[0])<<8 | int(rest[1])
		rest = rest[2:]
		if len(rest) < size {
			return nil, fmt.Errorf("h264: STAP-A packet contained invalid length")
		}
		out = append(out, d.prefixed(rest[:size])...)
		rest = rest[size:]
	}
	return out, nil
}

func (d *DePayloader) depayloadFUA(payload []byte) ([]byte, error) {
	if len(payload) < fuaHeaderLen+1 {
		return nil, fmt.Errorf("h264: FU-A packet contained invalid length")
	}

	indicator := payload[0]
	header := payload[1]
	chunk := payload[2:]

	if header&fuaStartBit != 0 {
		nalType := header & nalHeaderTypeMask
		nalHeader := (indicator & nalHeaderNRIMask) | nalType
		d.fua = append([]byte{nalHeader}, chunk...)
		return nil, nil
	}

	if d.fua == nil {
		return nil, fmt.Errorf("h264: FU-A continuation without a start fragment")
	}
	d.fua = append(d.fua, chunk...)

	if header&fuaEndBit != 0 {
		nal := d.fua
		d.fua = nil
		return d.prefixed(nal), nil
	}
	return nil, nil
}
