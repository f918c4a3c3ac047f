package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"layeh.com/gopus"
)

// ErrUnsupportedCodec is returned by [Decode] when the container cannot be
// identified from either its leading bytes or the supplied hint.
var ErrUnsupportedCodec = errors.New("audio: unsupported codec")

// Codec identifies an encoded audio container.
type Codec string

const (
	CodecUnknown Codec = ""
	CodecWAV     Codec = "wav"
	CodecMP3     Codec = "mp3"
	CodecOggOpus Codec = "ogg"
)

const (
	// opusSampleRate is the rate libopus always decodes at.
	opusSampleRate = 48000

	// opusMaxFrameSize is the largest Opus frame (120 ms at 48 kHz) per channel.
	opusMaxFrameSize = 5760
)

// Decode turns an encoded audio asset (a chat attachment, a synthesis
// response) into 16-bit PCM. hint is a MIME type or file name used when the
// leading bytes are inconclusive.
func Decode(data []byte, hint string) ([]byte, Format, error) {
	switch Sniff(data, hint) {
	case CodecWAV:
		return ParseWAV(data)
	case CodecMP3:
		return DecodeMP3(data)
	case CodecOggOpus:
		return DecodeOggOpus(data)
	default:
		return nil, Format{}, fmt.Errorf("%w: %q", ErrUnsupportedCodec, hint)
	}
}

// Sniff identifies the container of data by its magic bytes, falling back to
// the MIME type or file extension in hint.
func Sniff(data []byte, hint string) Codec {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return CodecWAV
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return CodecOggOpus
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return CodecMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return CodecMP3
	}

	h := strings.ToLower(hint)
	switch {
	case strings.Contains(h, "wav"):
		return CodecWAV
	case strings.Contains(h, "mpeg"), strings.HasSuffix(h, ".mp3"):
		return CodecMP3
	case strings.Contains(h, "ogg"), strings.Contains(h, "opus"):
		return CodecOggOpus
	}
	return CodecUnknown
}

// DecodeMP3 decodes an MP3 stream. go-mp3 always produces interleaved 16-bit
// stereo at the stream's native rate.
func DecodeMP3(data []byte) ([]byte, Format, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: mp3 decoder: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: mp3 decode: %w", err)
	}
	return pcm, Format{SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// DecodeOggOpus decodes an Ogg-encapsulated Opus stream (the format of chat
// voice messages) to 48 kHz PCM with the stream's channel count. The encoder
// pre-skip declared in the OpusHead packet is trimmed from the output.
// Multiplexed streams are not supported; chat voice messages never carry more
// than one logical bitstream.
func DecodeOggOpus(data []byte) ([]byte, Format, error) {
	tap := &pageTap{r: bytes.NewReader(data)}
	ogg, head, err := oggreader.NewWith(tap)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: ogg stream is not Opus: %w", err)
	}
	channels := int(head.Channels)
	if channels != 1 && channels != 2 {
		return nil, Format{}, fmt.Errorf("audio: unsupported opus channel count %d", channels)
	}
	tap.take()

	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: create opus decoder: %w", err)
	}

	var (
		samples []int16
		cur     []byte
		packets int
	)
	for {
		payload, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Format{}, fmt.Errorf("audio: read ogg page: %w", err)
		}
		off := 0
		for _, l := range segmentTable(tap.take()) {
			end := off + int(l)
			if end > len(payload) {
				return nil, Format{}, errors.New("audio: ogg segment table exceeds page payload")
			}
			cur = append(cur, payload[off:end]...)
			off = end
			if l == 255 {
				continue
			}
			pkt := cur
			cur = nil
			packets++
			// The first packet after OpusHead is OpusTags.
			if packets == 1 || len(pkt) == 0 {
				continue
			}
			out, err := dec.Decode(pkt, opusMaxFrameSize, false)
			if err != nil {
				return nil, Format{}, fmt.Errorf("audio: opus decode: %w", err)
			}
			samples = append(samples, out...)
		}
	}
	if packets < 2 {
		return nil, Format{}, errors.New("audio: ogg stream has no audio packets")
	}

	skip := min(int(head.PreSkip)*channels, len(samples))
	return Int16sToBytes(samples[skip:]), Format{SampleRate: opusSampleRate, Channels: channels}, nil
}

// pageTap keeps the raw bytes of the page oggreader is parsing. The reader
// validates and returns the page payload but not its segment table, which
// is needed to split the payload into packets.
type pageTap struct {
	r   io.Reader
	buf []byte
}

func (t *pageTap) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.buf = append(t.buf, p[:n]...)
	return n, err
}

func (t *pageTap) take() []byte {
	b := t.buf
	t.buf = nil
	return b
}

// segmentTable returns the lacing values of a raw Ogg page.
func segmentTable(page []byte) []byte {
	const headerLen = 27
	if len(page) < headerLen {
		return nil
	}
	n := int(page[26])
	if len(page) < headerLen+n {
		return nil
	}
	return page[headerLen : headerLen+n]
}
