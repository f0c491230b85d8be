// Package transcribe hands accumulated call audio to a speech-to-text
// service.
package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"
)

// Block is one contiguous run of linear PCM from a media stream.
type Block struct {
	StreamID   string
	CallSID    string
	TenantID   string
	Direction  string
	Seq        int
	SampleRate int
	Samples    []int16
}

// Duration returns the playback length of the block.
func (b Block) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Transcriber turns a block of audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, b Block) (string, error)
}

// Noop discards audio. It is used when no transcription service is set up.
type Noop struct{}

func (Noop) Transcribe(context.Context, Block) (string, error) { return "", nil }

// EncodeWAV wraps mono 16-bit samples in a RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataSize := uint32(len(samples) * 2)
	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	_ = binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}
