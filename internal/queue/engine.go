package queue

import (
	"context"
	"fmt"
)

// ResolvedTrack is the engine's answer to a query: display metadata plus the
// canonical URL the fetch runs against.
type ResolvedTrack struct {
	Title        string
	Artist       string
	CanonicalURL string
}

// ProgressFunc receives raw byte counts from the engine while a fetch is
// running. A total of 0 means the engine cannot estimate the size.
type ProgressFunc func(downloaded, total int64)

// AudioFormat is the target container/codec for the transcode step.
type AudioFormat string

const (
	FormatMP3  AudioFormat = "mp3"
	FormatM4A  AudioFormat = "m4a"
	FormatFLAC AudioFormat = "flac"
	FormatWAV  AudioFormat = "wav"
)

var bitrateOptions = []int{320, 256, 192, 128, 96}

// FetchOptions enumerates the recognized engine options. It replaces the
// untyped option bag the extraction library accepts; anything not listed
// here is never forwarded.
type FetchOptions struct {
	Format               AudioFormat
	Bitrate              int // kbps
	OutputTemplate       string
	SocketTimeoutSeconds int
	Retries              int
	EmbedThumbnail       bool
}

// Validate rejects option combinations before they reach the engine.
func (o FetchOptions) Validate() error {
	switch o.Format {
	case FormatMP3, FormatM4A, FormatFLAC, FormatWAV:
	default:
		return fmt.Errorf("unsupported audio format %q", o.Format)
	}

	ok := false
	for _, b := range bitrateOptions {
		if o.Bitrate == b {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("unsupported bitrate %d (want one of %v)", o.Bitrate, bitrateOptions)
	}

	if o.OutputTemplate == "" {
		return fmt.Errorf("output template must not be empty")
	}
	if o.SocketTimeoutSeconds < 0 {
		return fmt.Errorf("socket timeout must not be negative")
	}
	if o.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}

// Engine is the extraction/transcode backend. Both calls are blocking; they
// honor ctx cancellation and the fetch reports progress through onProgress.
type Engine interface {
	Resolve(ctx context.Context, query string) (ResolvedTrack, error)
	Fetch(ctx context.Context, canonicalURL string, opts FetchOptions, onProgress ProgressFunc) (string, error)
}

// TagFields are the metadata fields the tag writer understands.
type TagFields struct {
	Title  string
	Artist string
	Album  string
	Cover  []byte // raw image bytes, optional
}

// TagWriter rewrites a file's embedded tags in place.
type TagWriter interface {
	WriteTags(ctx context.Context, filePath string, fields TagFields) error
}
