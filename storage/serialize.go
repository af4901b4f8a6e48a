/*
	Package storage persists named layers between interactive sessions and
	batch replays. Values are framed with a one-byte serialization format
	(compression + checksum), compressed with snappy or zstd, and stored in
	a badger key-value backend fronted by an in-memory read-through cache.
	The package also owns the optional kafka producer used to announce
	completed pipeline steps.
*/
package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression is the compression applied to a stored value.
type Compression uint8

const (
	Uncompressed Compression = 0
	Snappy       Compression = 1
	Zstd         Compression = 2
)

func (c Compression) String() string {
	switch c {
	case Uncompressed:
		return "no compression"
	case Snappy:
		return "snappy compression"
	case Zstd:
		return "zstd compression"
	default:
		return "unknown compression"
	}
}

// Checksum is the error check applied to a stored value.
type Checksum uint8

const (
	NoChecksum Checksum = 0
	CRC32      Checksum = 1
)

// Format packs compression and checksum into the leading value byte.
type Format uint8

func EncodeFormat(c Compression, ck Checksum) Format {
	return Format((uint8(c)&0x07)<<5 | (uint8(ck)&0x03)<<3)
}

func (f Format) Decode() (Compression, Checksum) {
	return Compression(uint8(f) >> 5), Checksum((uint8(f) >> 3) & 0x03)
}

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

// SerializeData frames a byte slice with the requested compression and
// checksum.
func SerializeData(data []byte, c Compression, ck Checksum) ([]byte, error) {
	var compressed []byte
	switch c {
	case Uncompressed:
		compressed = data
	case Snappy:
		compressed = snappy.Encode(nil, data)
	case Zstd:
		compressed = zstdEncoder.EncodeAll(data, nil)
	default:
		return nil, fmt.Errorf("illegal compression (%s) during serialization", c)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(EncodeFormat(c, ck)))
	if ck == CRC32 {
		var sum [4]byte
		binary.LittleEndian.PutUint32(sum[:], crc32.ChecksumIEEE(compressed))
		buf.Write(sum[:])
	}
	buf.Write(compressed)
	return buf.Bytes(), nil
}

// DeserializeData reverses SerializeData, verifying the checksum when one
// was stored.
func DeserializeData(s []byte) ([]byte, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("cannot deserialize empty value")
	}
	c, ck := Format(s[0]).Decode()
	payload := s[1:]

	if ck == CRC32 {
		if len(payload) < 4 {
			return nil, fmt.Errorf("serialized value too short for checksum")
		}
		stored := binary.LittleEndian.Uint32(payload[:4])
		payload = payload[4:]
		if computed := crc32.ChecksumIEEE(payload); computed != stored {
			return nil, fmt.Errorf("checksum mismatch: stored %x, computed %x", stored, computed)
		}
	}

	switch c {
	case Uncompressed:
		return payload, nil
	case Snappy:
		return snappy.Decode(nil, payload)
	case Zstd:
		return zstdDecoder.DecodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("illegal compression (%s) during deserialization", c)
	}
}
