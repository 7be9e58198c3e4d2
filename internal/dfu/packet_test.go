package dfu

import (
	"encoding/binary"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	chunk := make([]byte, MaxChunkSize)
	for i := range chunk {
		chunk[i] = byte(i * 7)
	}
	raw := EncodePacket(Packet{Seq: 42, Chunk: chunk})

	got, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Seq != 42 {
		t.Errorf("seq: got %d, want 42", got.Seq)
	}
	if len(got.Chunk) != len(chunk) {
		t.Fatalf("chunk length: got %d, want %d", len(got.Chunk), len(chunk))
	}
	for i := range chunk {
		if got.Chunk[i] != chunk[i] {
			t.Fatalf("chunk byte %d: got 0x%02X, want 0x%02X", i, got.Chunk[i], chunk[i])
		}
	}
}

func TestPacketCRCDetectsCorruption(t *testing.T) {
	raw := EncodePacket(Packet{Seq: 3, Chunk: []byte{1, 2, 3, 4}})
	raw[7] ^= 0xFF // flip a chunk byte

	_, err := DecodePacket(raw)
	ce, ok := err.(*ChunkCRCError)
	if !ok {
		t.Fatalf("expected ChunkCRCError, got %v", err)
	}
	if ce.Seq != 3 {
		t.Errorf("error seq: got %d, want 3", ce.Seq)
	}
	if ce.Declared == ce.Actual {
		t.Error("declared and computed CRC should differ")
	}
}

func TestPacketRejectsBadFraming(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"too short", []byte{1, 2, 3}},
		{"truncated chunk", func() []byte {
			raw := EncodePacket(Packet{Seq: 0, Chunk: []byte{1, 2, 3, 4}})
			return raw[:len(raw)-2]
		}()},
		{"oversized declared length", func() []byte {
			raw := make([]byte, dataOverhead+MaxChunkSize+1)
			binary.LittleEndian.PutUint16(raw[4:], MaxChunkSize+1)
			return raw
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePacket(tt.raw); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStartRoundTrip(t *testing.T) {
	raw := EncodeStart(StartRequest{TotalSize: 123456, CRC32: 0xDEADBEEF})
	if raw[0] != OpStart {
		t.Fatalf("opcode: got 0x%02X", raw[0])
	}
	got, err := decodeStart(raw[1:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalSize != 123456 || got.CRC32 != 0xDEADBEEF {
		t.Errorf("got %+v", got)
	}
}

func TestAckEncode(t *testing.T) {
	raw := Ack{Status: StatusBusy, Seq: 7}.Encode()
	if len(raw) != 5 {
		t.Fatalf("length: got %d, want 5", len(raw))
	}
	if raw[0] != StatusBusy {
		t.Errorf("status: got 0x%02X", raw[0])
	}
	if binary.LittleEndian.Uint32(raw[1:]) != 7 {
		t.Errorf("seq: got %d", binary.LittleEndian.Uint32(raw[1:]))
	}
}
