// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// live WebSocket API. It implements the stt.Provider interface.
//
// Each Transcribe call opens a connection, streams the whole utterance,
// sends CloseStream and joins the final results Deepgram returns before it
// closes the socket. Using the live endpoint rather than the pre-recorded one
// keeps latency low for short utterances.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// sendChunk is the size of each binary message: 250 ms of 16 kHz mono.
	sendChunk = 8000
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code used when the request carries
// none (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint. Intended for tests and
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if err := req.Validate(); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", err)
	}
	wsURL, lang, err := p.buildURL(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// Results can arrive while audio is still being sent, so read concurrently.
	type readResult struct {
		parts []string
		conf  float64
		err   error
	}
	done := make(chan readResult, 1)
	go func() {
		var r readResult
		r.parts, r.conf, r.err = collectFinals(ctx, conn)
		done <- r
	}()

	for off := 0; off < len(req.PCM); off += sendChunk {
		end := min(off+sendChunk, len(req.PCM))
		if err := conn.Write(ctx, websocket.MessageBinary, req.PCM[off:end]); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	var r readResult
	select {
	case r = <-done:
	case <-ctx.Done():
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", ctx.Err())
	}
	if r.err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: read results: %w", r.err)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	f := audio.Format{SampleRate: req.SampleRate, Channels: req.Channels}
	return stt.Transcript{
		Text:       strings.Join(r.parts, " "),
		Language:   lang,
		Confidence: r.conf,
		Duration:   f.Duration(len(req.PCM)),
	}, nil
}

// collectFinals reads until the server closes the socket and returns the
// text of every final result plus their mean confidence.
func collectFinals(ctx context.Context, conn *websocket.Conn) ([]string, float64, error) {
	var (
		parts   []string
		confSum float64
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, 0, err
		}
		text, conf, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		parts = append(parts, text)
		confSum += conf
	}
	if len(parts) == 0 {
		return nil, 0, nil
	}
	return parts, confSum / float64(len(parts)), nil
}

// buildURL constructs the Deepgram streaming endpoint URL for req and
// returns the language it selected.
func (p *Provider) buildURL(req stt.Request) (string, string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(req.SampleRate))
	q.Set("channels", strconv.Itoa(req.Channels))

	// Prompt terms become keyterm hints (comma separated).
	for _, term := range strings.Split(req.Prompt, ",") {
		if term = strings.TrimSpace(term); term != "" {
			q.Add("keyterm", term)
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), lang, nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse extracts the text of a final, non-empty Results
// message. Everything else (Metadata, interim results, silence) is ignored.
func parseDeepgramResponse(data []byte) (string, float64, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", 0, false
	}
	if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return "", 0, false
	}
	alt := resp.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return "", 0, false
	}
	return text, alt.Confidence, true
}
