package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// wavAudio is decoded PCM audio, downmixed to mono.
type wavAudio struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// readWAV decodes a 16-bit PCM RIFF/WAVE stream. Chunks other than fmt and
// data are skipped.
func readWAV(r io.Reader) (wavAudio, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return wavAudio{}, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return wavAudio{}, errors.New("not a valid WAV file")
	}

	var (
		out      wavAudio
		bits     uint16
		haveFmt  bool
		chunkHdr [8]byte
	)
	for {
		if _, err := io.ReadFull(r, chunkHdr[:]); err != nil {
			return wavAudio{}, fmt.Errorf("no data chunk: %w", err)
		}
		id := string(chunkHdr[0:4])
		size := binary.LittleEndian.Uint32(chunkHdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return wavAudio{}, fmt.Errorf("fmt chunk too short: %d", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return wavAudio{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return wavAudio{}, fmt.Errorf("only PCM format supported, got %d", format)
			}
			out.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = binary.LittleEndian.Uint16(body[14:16])
			if bits != 16 {
				return wavAudio{}, fmt.Errorf("only 16-bit samples supported, got %d", bits)
			}
			if out.Channels < 1 {
				return wavAudio{}, errors.New("invalid channel count")
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return wavAudio{}, errors.New("data chunk before fmt chunk")
			}
			data := make([]byte, size)
			n, err := io.ReadFull(r, data)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return wavAudio{}, fmt.Errorf("read data chunk: %w", err)
			}
			out.Samples = decodePCM16(data[:n], out.Channels)
			return out, nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return wavAudio{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// decodePCM16 converts little-endian 16-bit frames to floats in [-1, 1),
// averaging channels.
func decodePCM16(data []byte, channels int) []float32 {
	frame := 2 * channels
	out := make([]float32, len(data)/frame)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			off := i*frame + 2*c
			sum += float32(int16(binary.LittleEndian.Uint16(data[off:]))) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// tonePattern returns silence, a sine tone, then silence again.
func tonePattern(rate int, silence, tone float64, freq, amp float64) []float32 {
	lead := int(silence * float64(rate))
	body := int(tone * float64(rate))
	out := make([]float32, 2*lead+body)
	for i := 0; i < body; i++ {
		out[lead+i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}
