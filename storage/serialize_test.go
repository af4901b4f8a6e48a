package storage

import (
	"bytes"
	"strings"
	"testing"
)

func TestSerializeRoundTrip(t *testing.T) {
	data := []byte("The quick brown fox jumps over the lazy dog. " +
		strings.Repeat("boundary probability ", 20))

	for _, c := range []Compression{Uncompressed, Snappy, Zstd} {
		for _, ck := range []Checksum{NoChecksum, CRC32} {
			s, err := SerializeData(data, c, ck)
			if err != nil {
				t.Fatalf("serialize %s: %v", c, err)
			}
			gotC, gotCk := Format(s[0]).Decode()
			if gotC != c || gotCk != ck {
				t.Errorf("format byte decodes to (%s, %d), want (%s, %d)", gotC, gotCk, c, ck)
			}
			out, err := DeserializeData(s)
			if err != nil {
				t.Fatalf("deserialize %s: %v", c, err)
			}
			if !bytes.Equal(out, data) {
				t.Fatalf("round trip with %s altered the data", c)
			}
		}
	}
}

func TestSerializeCompresses(t *testing.T) {
	data := bytes.Repeat([]byte("aaaaaaaaab"), 500)
	for _, c := range []Compression{Snappy, Zstd} {
		s, err := SerializeData(data, c, NoChecksum)
		if err != nil {
			t.Fatalf("serialize %s: %v", c, err)
		}
		if len(s) >= len(data) {
			t.Errorf("%s did not shrink repetitive data: %d -> %d", c, len(data), len(s))
		}
	}
}

func TestDeserializeDetectsCorruption(t *testing.T) {
	s, err := SerializeData([]byte("layer bytes"), Snappy, CRC32)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	s[len(s)-1] ^= 0xff
	if _, err := DeserializeData(s); err == nil {
		t.Fatalf("corrupted payload passed the checksum")
	}
}

func TestDeserializeRejectsBadInput(t *testing.T) {
	if _, err := DeserializeData(nil); err == nil {
		t.Errorf("empty value accepted")
	}
	// A CRC32 frame needs at least the format byte plus four checksum bytes.
	short := []byte{byte(EncodeFormat(Uncompressed, CRC32)), 1, 2}
	if _, err := DeserializeData(short); err == nil {
		t.Errorf("truncated checksum frame accepted")
	}
}

func TestSerializeRejectsUnknownCompression(t *testing.T) {
	if _, err := SerializeData([]byte("x"), Compression(7), NoChecksum); err == nil {
		t.Fatalf("unknown compression accepted")
	}
}
