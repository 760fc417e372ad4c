package leveling

import (
	"errors"
	"math"
)

var (
	ErrMeshCorrupt  = errors.New("mesh blob corrupt")
	ErrMeshVersion  = errors.New("unsupported mesh blob version")
	ErrMeshSize     = errors.New("mesh blob size does not match configured grid")
	ErrMeshChecksum = errors.New("mesh blob checksum mismatch")
	ErrMeshRange    = errors.New("mesh height out of storable range")
)

// Mesh blob layout:
//
//	"MESH" | version | countX | countY | flags | z[countY][countX] | crc16
//
// Heights are signed microns, VLQ encoded. The CRC covers everything
// before it and is stored big-endian.
const (
	meshMagic         = "MESH"
	meshFormatVersion = 1
	meshHeaderLen     = 8
	meshFlagValid     = 0x01
)

// EncodeMesh serialises the mesh heights and validity
func EncodeMesh(m *Mesh) ([]byte, error) {
	cfg := m.cfg
	buf := make([]byte, 0, meshHeaderLen+cfg.CountX*cfg.CountY*2+2)
	buf = append(buf, meshMagic...)
	var flags byte
	if m.valid {
		flags |= meshFlagValid
	}
	buf = append(buf, meshFormatVersion, byte(cfg.CountX), byte(cfg.CountY), flags)

	for iy := 0; iy < cfg.CountY; iy++ {
		for ix := 0; ix < cfg.CountX; ix++ {
			um := math.Round(m.At(ix, iy) * 1000)
			if um > math.MaxInt32 || um < math.MinInt32 {
				return nil, ErrMeshRange
			}
			buf = appendVLQ(buf, int32(um))
		}
	}

	crc := crc16(buf)
	return append(buf, byte(crc>>8), byte(crc)), nil
}

// DecodeMesh loads a blob produced by EncodeMesh into m. The blob is
// checked completely before m is touched.
func DecodeMesh(data []byte, m *Mesh) error {
	if len(data) < meshHeaderLen+2 || string(data[:4]) != meshMagic {
		return ErrMeshCorrupt
	}
	if data[4] != meshFormatVersion {
		return ErrMeshVersion
	}
	countX, countY, flags := int(data[5]), int(data[6]), data[7]
	if countX != m.cfg.CountX || countY != m.cfg.CountY {
		return ErrMeshSize
	}

	body := data[:len(data)-2]
	want := uint16(data[len(data)-2])<<8 | uint16(data[len(data)-1])
	if crc16(body) != want {
		return ErrMeshChecksum
	}

	values := make([]float64, 0, countX*countY)
	rest := body[meshHeaderLen:]
	for i := 0; i < countX*countY; i++ {
		v, n, err := readVLQ(rest)
		if err != nil {
			return err
		}
		rest = rest[n:]
		values = append(values, float64(v)/1000)
	}
	if len(rest) != 0 {
		return ErrMeshCorrupt
	}

	for i, z := range values {
		m.z.Set(i/countX, i%countX, z)
	}
	m.valid = flags&meshFlagValid != 0
	m.version++
	return nil
}

// appendVLQ encodes v most-significant group first, seven bits per byte,
// emitting only the groups needed to carry the sign
func appendVLQ(buf []byte, v int32) []byte {
	if v < -(1<<26) || v >= 3<<26 {
		buf = append(buf, byte((v>>28)&0x7F)|0x80)
	}
	if v < -(1<<19) || v >= 3<<19 {
		buf = append(buf, byte((v>>21)&0x7F)|0x80)
	}
	if v < -(1<<12) || v >= 3<<12 {
		buf = append(buf, byte((v>>14)&0x7F)|0x80)
	}
	if v < -(1<<5) || v >= 3<<5 {
		buf = append(buf, byte((v>>7)&0x7F)|0x80)
	}
	return append(buf, byte(v&0x7F))
}

// readVLQ decodes one value and returns the number of bytes consumed
func readVLQ(data []byte) (int32, int, error) {
	if len(data) == 0 {
		return 0, 0, ErrMeshCorrupt
	}
	c := uint32(data[0])
	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	n := 1
	for c&0x80 != 0 {
		if n >= len(data) || n >= 5 {
			return 0, 0, ErrMeshCorrupt
		}
		c = uint32(data[n])
		v = v<<7 | c&0x7F
		n++
	}
	return int32(v), n, nil
}

// crc16 is CRC-16/MCRF4XX, the checksum used on the firmware serial link
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= byte(crc)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}
