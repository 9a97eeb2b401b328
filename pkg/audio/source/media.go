package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// maxFetchBytes caps remote media downloads.
const maxFetchBytes = 256 << 20

// Media is a decoded audio file. URL may be a plain path, a file:// URL or an
// http(s):// URL. The container is chosen by file extension: .wav or .mp3.
type Media struct {
	URL string

	// Client is used for http(s) URLs. Nil means [http.DefaultClient].
	Client *http.Client

	channels int
	pcm      []int16
}

var _ Source = (*Media)(nil)

// Load fetches and decodes the file. Unreadable files, unknown extensions and
// decode failures are returned as errors; nothing is retried.
func (m *Media) Load(ctx context.Context) (Info, error) {
	start := time.Now()
	loc, err := m.location()
	if err != nil {
		return Info{}, err
	}

	decode, err := decoderFor(loc)
	if err != nil {
		return Info{}, err
	}

	raw, err := m.fetch(ctx, loc)
	if err != nil {
		return Info{}, err
	}
	fetched := time.Now()

	pcm, channels, rate, err := decode(raw)
	if err != nil {
		return Info{}, fmt.Errorf("source: decode %s: %w", m.URL, err)
	}
	if channels <= 0 || rate <= 0 {
		return Info{}, fmt.Errorf("source: decode %s: invalid format %dHz/%dch", m.URL, rate, channels)
	}

	m.channels = channels
	m.pcm = pcm
	length := int64(len(pcm) / channels)
	info := Info{
		Channels:   channels,
		SampleRate: rate,
		Length:     length,
		Duration:   time.Duration(length) * time.Second / time.Duration(rate),
	}

	slog.InfoContext(ctx, "media source loaded",
		"url", m.URL,
		"channels", channels,
		"sample_rate", rate,
		"length", length,
		"duration", info.Duration,
		"fetch", fetched.Sub(start),
		"decode", time.Since(fetched),
	)
	return info, nil
}

// Sample looks up the decoded buffer. Out-of-range positions are silence.
func (m *Media) Sample(_, channel int, sampleNumber int64, _ float64) float64 {
	if sampleNumber < 0 || channel < 0 || channel >= m.channels {
		return 0
	}
	i := sampleNumber*int64(m.channels) + int64(channel)
	if i >= int64(len(m.pcm)) {
		return 0
	}
	return float64(m.pcm[i])
}

// location normalises URL into a parsed URL with a scheme.
func (m *Media) location() (*url.URL, error) {
	if m.URL == "" {
		return nil, fmt.Errorf("source: media has no URL")
	}
	u, err := url.Parse(m.URL)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path, including Windows drive letters.
		return &url.URL{Scheme: "file", Path: m.URL}, nil
	}
	switch u.Scheme {
	case "file", "http", "https":
		return u, nil
	default:
		return nil, fmt.Errorf("source: unsupported URL scheme %q", u.Scheme)
	}
}

func (m *Media) fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	if u.Scheme == "file" {
		b, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, fmt.Errorf("source: read %s: %w", u.Path, err)
		}
		return b, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("source: fetch %s: %w", u, err)
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source: fetch %s: status %s", u, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("source: fetch %s: %w", u, err)
	}
	return b, nil
}

type decodeFunc func(raw []byte) (pcm []int16, channels, rate int, err error)

func decoderFor(u *url.URL) (decodeFunc, error) {
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".wav", ".wave":
		return decodeWAV, nil
	case ".mp3":
		return decodeMP3, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// decodeWAV decodes a RIFF/WAVE file and rescales its samples to 16 bits.
func decodeWAV(raw []byte) ([]int16, int, int, error) {
	d := wav.NewDecoder(bytes.NewReader(raw))
	if !d.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("not a valid wav file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, err
	}
	if buf.Format == nil {
		return nil, 0, 0, fmt.Errorf("wav file has no format chunk")
	}

	depth := int(d.BitDepth)
	pcm := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case depth == 8:
			// 8-bit WAV is unsigned.
			pcm[i] = int16((v - 128) << 8)
		case depth > 16:
			pcm[i] = int16(v >> (depth - 16))
		default:
			pcm[i] = int16(v)
		}
	}
	return pcm, buf.Format.NumChannels, buf.Format.SampleRate, nil
}

// decodeMP3 decodes an MPEG-1/2 layer 3 stream. The decoder always produces
// interleaved 16-bit stereo.
func decodeMP3(raw []byte) ([]int16, int, int, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, err
	}
	b, err := io.ReadAll(d)
	if err != nil {
		return nil, 0, 0, err
	}
	return audio.BytesToInt16s(b), 2, d.SampleRate(), nil
}
