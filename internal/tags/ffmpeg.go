package tags

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/audiodock/internal/queue"
	"github.com/audiodock/pkg/logger"
)

const bin = "ffmpeg"

// Writer rewrites embedded metadata with ffmpeg. One code path serves every
// supported container; the per-format differences live in buildArgs.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// WriteTags re-muxes the file with the given metadata and atomically replaces
// the original. The audio stream is copied, never re-encoded.
func (w *Writer) WriteTags(ctx context.Context, filePath string, fields queue.TagFields) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	if format == "" {
		return fmt.Errorf("cannot determine format of %s", filePath)
	}

	coverPath := ""
	if len(fields.Cover) > 0 && formatSupportsCover(format) {
		f, err := os.CreateTemp("", "audiodock-cover-*.jpg")
		if err != nil {
			return fmt.Errorf("cover temp file: %w", err)
		}
		coverPath = f.Name()
		defer os.Remove(coverPath)

		if _, err := f.Write(fields.Cover); err != nil {
			f.Close()
			return fmt.Errorf("write cover: %w", err)
		}
		f.Close()
	}

	tmpOut := tempSibling(filePath)
	defer os.Remove(tmpOut)

	args, err := buildArgs(filePath, tmpOut, format, coverPath, fields)
	if err != nil {
		return err
	}

	logger.Debugf("  Command: %s %s", bin, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}

	if err := os.Rename(tmpOut, filePath); err != nil {
		return fmt.Errorf("replace tagged file: %w", err)
	}
	return nil
}

// buildArgs assembles the ffmpeg invocation for one container format.
// Unsupported formats fail here, before any subprocess is spawned.
func buildArgs(in, out, format, coverPath string, fields queue.TagFields) ([]string, error) {
	args := []string{"-y", "-i", in}

	hasCover := coverPath != ""
	if hasCover {
		args = append(args, "-i", coverPath)
	}

	switch format {
	case "mp3":
		args = append(args, "-map", "0:a")
		if hasCover {
			args = append(args, "-map", "1:v")
		}
		args = append(args, "-c:a", "copy", "-id3v2_version", "3")
		if hasCover {
			args = append(args,
				"-c:v", "mjpeg",
				"-metadata:s:v", "title=Album cover",
				"-metadata:s:v", "comment=Cover (front)",
			)
		}
	case "m4a":
		args = append(args, "-map", "0:a")
		if hasCover {
			args = append(args, "-map", "1:v", "-disposition:v", "attached_pic", "-c:v", "mjpeg")
		}
		args = append(args, "-c:a", "copy")
	case "flac":
		args = append(args, "-map", "0:a")
		if hasCover {
			args = append(args, "-map", "1:v", "-disposition:v", "attached_pic")
		}
		args = append(args, "-c:a", "copy")
	case "wav":
		// WAV has no cover art slot; metadata only.
		args = append(args, "-map", "0:a", "-c:a", "copy")
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	if fields.Title != "" {
		args = append(args, "-metadata", "title="+fields.Title)
	}
	if fields.Artist != "" {
		args = append(args, "-metadata", "artist="+fields.Artist)
	}
	if fields.Album != "" {
		args = append(args, "-metadata", "album="+fields.Album)
	}

	return append(args, out), nil
}

func formatSupportsCover(format string) bool {
	switch format {
	case "mp3", "m4a", "flac":
		return true
	}
	return false
}

// tempSibling keeps the temp output on the same filesystem so the final
// rename stays atomic.
func tempSibling(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	return filepath.Join(dir, "."+base+".tagging"+filepath.Ext(path))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
