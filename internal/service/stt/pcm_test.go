package stt

import (
	"encoding/binary"
	"testing"
)

func TestEncodePCM16(t *testing.T) {
	out := EncodePCM16([]float32{0, 1, -1, 2, 0.5})
	want := []int16{0, 32767, -32767, 32767, 16384}
	if len(out) != 2*len(want) {
		t.Fatalf("expected %d bytes, got %d", 2*len(want), len(out))
	}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(out[2*i:])); got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestEncodeWAV(t *testing.T) {
	wav := EncodeWAV(make([]float32, 100), 16000)
	if len(wav) != 44+200 {
		t.Fatalf("expected 244 bytes, got %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("malformed header")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != 200 {
		t.Errorf("expected data size 200, got %d", size)
	}
}
