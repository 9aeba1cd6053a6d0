// Package stream opens internet radio stations over HTTP and turns them into
// fixed-size PCM frames ready for Opus encoding.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Discord voice expects 20ms frames of 48kHz stereo audio.
const (
	SampleRate = 48000
	Channels   = 2
	FrameSize  = 960
)

// ErrNoStream is returned when a station URL does not answer with an audio stream.
var ErrNoStream = errors.New("not an audio stream")

// Source yields interleaved stereo PCM at SampleRate.
type Source interface {
	// ReadFrame fills pcm completely. A short tail is padded with silence;
	// io.EOF is returned once the stream has nothing left.
	ReadFrame(pcm []int16) error
	Close() error
}

// Decoder turns a raw station byte stream into a Source. The Source owns r.
type Decoder interface {
	Decode(ctx context.Context, r io.ReadCloser) (Source, error)
}

// Opener fetches station streams and hands them to a Decoder.
type Opener struct {
	Client     *http.Client
	Decoder    Decoder
	Logger     *slog.Logger
	UserAgent  string
	OnMetadata func(url string, m Metadata)
}

// NewOpener builds an Opener whose client only times out while connecting;
// once the response headers are in, the body is read for as long as it lasts.
func NewOpener(decoder Decoder, connectTimeout time.Duration, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: connectTimeout,
		TLSHandshakeTimeout:   connectTimeout,
	}
	o := &Opener{
		Client:    &http.Client{Transport: transport},
		Decoder:   decoder,
		Logger:    logger,
		UserAgent: "radiobot/1.0",
	}
	o.OnMetadata = func(url string, m Metadata) {
		if m.Title != "" {
			o.Logger.Info("Now streaming", "url", url, "title", m.Title)
		}
	}
	return o
}

// Open fetches url and returns a decoded Source. Cancelling ctx aborts the
// fetch and any later read of the body.
func (o *Opener) Open(ctx context.Context, url string) (Source, error) {
	body, err := o.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	src, err := o.Decoder.Decode(ctx, body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return src, nil
}

func (o *Opener) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Icy-MetaData", "1")
	if o.UserAgent != "" {
		req.Header.Set("User-Agent", o.UserAgent)
	}

	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s answered %s", ErrNoStream, url, resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !isAudio(ct) {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s answered with content type %q", ErrNoStream, url, ct)
	}

	metaint := 0
	if raw := resp.Header.Get("Icy-Metaint"); raw != "" {
		metaint, err = strconv.Atoi(raw)
		if err != nil || metaint < 0 {
			resp.Body.Close()
			return nil, fmt.Errorf("cannot parse icy-metaint %q", raw)
		}
	}

	o.Logger.Debug("Station stream opened",
		"url", url,
		"name", resp.Header.Get("Icy-Name"),
		"bitrate", resp.Header.Get("Icy-Br"),
		"metaint", metaint)

	r := &icyReader{rc: resp.Body, metaint: metaint}
	if o.OnMetadata != nil {
		r.onMetadata = func(m Metadata) { o.OnMetadata(url, m) }
	}
	return r, nil
}

// isAudio accepts the content types icecast and shoutcast servers send for
// audio. A missing header is tolerated, some servers omit it.
func isAudio(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "audio/"):
		return true
	case mediaType == "application/ogg", mediaType == "application/octet-stream":
		return true
	}
	return false
}

// Metadata is the part of an ICY metadata block the bot cares about.
type Metadata struct {
	Title string
	URL   string
}

func parseMetadata(block []byte) Metadata {
	raw := strings.TrimRight(string(block), "\x00")
	return Metadata{
		Title: icyField(raw, "StreamTitle"),
		URL:   icyField(raw, "StreamUrl"),
	}
}

// icyField extracts key='value'; from a metadata block. Values may contain
// semicolons, so the terminator is the quote-semicolon pair.
func icyField(raw, key string) string {
	start := strings.Index(raw, key+"='")
	if start < 0 {
		return ""
	}
	rest := raw[start+len(key)+2:]
	if end := strings.Index(rest, "';"); end >= 0 {
		return rest[:end]
	}
	return strings.TrimSuffix(rest, "'")
}

// icyReader returns only audio bytes, consuming the metadata block the
// server interleaves every metaint bytes.
type icyReader struct {
	rc         io.ReadCloser
	metaint    int
	pos        int
	last       Metadata
	onMetadata func(Metadata)
}

func (r *icyReader) Read(p []byte) (int, error) {
	if r.metaint <= 0 {
		return r.rc.Read(p)
	}
	if r.pos == r.metaint {
		if err := r.readMetadata(); err != nil {
			return 0, err
		}
		r.pos = 0
	}
	if rem := r.metaint - r.pos; len(p) > rem {
		p = p[:rem]
	}
	n, err := r.rc.Read(p)
	r.pos += n
	return n, err
}

func (r *icyReader) readMetadata() error {
	var length [1]byte
	if _, err := io.ReadFull(r.rc, length[:]); err != nil {
		return err
	}
	size := int(length[0]) * 16
	if size == 0 {
		return nil
	}

	block := make([]byte, size)
	if _, err := io.ReadFull(r.rc, block); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	if m := parseMetadata(block); m != r.last {
		r.last = m
		if r.onMetadata != nil {
			r.onMetadata(m)
		}
	}
	return nil
}

func (r *icyReader) Close() error {
	return r.rc.Close()
}

// NewDecoder picks a decoder by name: "native" or "ffmpeg".
func NewDecoder(kind, ffmpegPath string, logger *slog.Logger) (Decoder, error) {
	switch kind {
	case "", "native":
		return MP3Decoder{Quality: defaultResampleQuality}, nil
	case "ffmpeg":
		return FFmpegDecoder{Path: ffmpegPath, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown audio decoder %q", kind)
	}
}
