package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWAV is returned by [ParseWAV] when the input is not a RIFF/WAVE
// container holding 16-bit PCM.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// EncodeWAV wraps raw 16-bit PCM in a canonical 44-byte-header RIFF/WAVE
// container, suitable for multipart uploads to transcription services.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bps = BytesPerSample * 8
	byteRate := f.BytesPerSecond()
	blockAlign := f.Channels * BytesPerSample
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ParseWAV walks the RIFF chunks of wav and returns the PCM payload of the
// data chunk together with the format declared by the fmt chunk. Chunk sizes
// are honoured rather than assuming a fixed 44-byte header, since synthesis
// servers commonly emit LIST chunks and extended fmt chunks.
//
// A data chunk whose declared size overruns the buffer is truncated to what
// is present; some streaming encoders write 0xFFFFFFFF there.
func ParseWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f        Format
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			codec := binary.LittleEndian.Uint16(wav[body : body+2])
			bits := binary.LittleEndian.Uint16(wav[body+14 : body+16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; the sub-format is assumed PCM.
			if (codec != 1 && codec != 0xFFFE) || bits != 16 {
				return nil, Format{}, fmt.Errorf("%w: unsupported encoding (format %d, %d bits)", ErrInvalidWAV, codec, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			foundFmt = true

		case "data":
			if !foundFmt {
				return nil, Format{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := body + size
			if size < 0 || end > len(wav) {
				end = len(wav)
			}
			pcm := wav[body:end]
			return pcm[:len(pcm)-len(pcm)%BytesPerSample], f, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return nil, Format{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}
