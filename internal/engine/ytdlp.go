package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/audiodock/internal/config"
	"github.com/audiodock/internal/queue"
	"github.com/audiodock/pkg/logger"
)

const bin = "yt-dlp"

// searchPrefixes map a provider to the yt-dlp single-result search scheme
// used for free-text queries. URLs bypass the prefix.
var searchPrefixes = map[string]string{
	"soundcloud": "scsearch1:",
	"youtube":    "ytsearch1:",
}

// Client drives the yt-dlp CLI. Resolve and Fetch are blocking; both honor
// ctx cancellation by killing the subprocess.
type Client struct {
	provider      string
	socketTimeout int
	limiter       *rate.Limiter
}

// New creates an engine client from the engine settings.
func New(cfg config.EngineConfig) *Client {
	c := &Client{
		provider:      cfg.Provider,
		socketTimeout: cfg.SocketTimeoutSeconds,
	}

	if cfg.SearchRateRPM > 0 {
		rps := float64(cfg.SearchRateRPM) / 60.0
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		logger.Infof("🚦 Resolve rate limit: %d RPM", cfg.SearchRateRPM)
	}

	return c
}

// Resolve turns a query (URL or free text) into display metadata and a
// canonical URL. Free-text queries go through the configured provider's
// search; the first match wins.
func (c *Client) Resolve(ctx context.Context, query string) (queue.ResolvedTrack, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return queue.ResolvedTrack{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	target := query
	if !isURL(query) {
		prefix, ok := searchPrefixes[c.provider]
		if !ok {
			prefix = searchPrefixes["soundcloud"]
		}
		target = prefix + query
	}

	args := []string{
		"-J",
		"--no-playlist",
		"--no-warnings",
		"--skip-download",
	}
	if c.socketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(c.socketTimeout))
	}
	args = append(args, target)

	logger.Debugf("  Command: %s %s", bin, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return queue.ResolvedTrack{}, ctx.Err()
		}
		return queue.ResolvedTrack{}, fmt.Errorf("resolve failed: %w: %s", err, firstLine(stderr.String()))
	}

	return parseResolveOutput(stdout.Bytes(), query)
}

type resolveInfo struct {
	Type       string        `json:"_type"`
	Title      string        `json:"title"`
	Artist     string        `json:"artist"`
	Uploader   string        `json:"uploader"`
	WebpageURL string        `json:"webpage_url"`
	Entries    []resolveInfo `json:"entries"`
}

// parseResolveOutput extracts title/artist/url from yt-dlp -J output. A
// search returns a one-entry playlist wrapper; unwrap it.
func parseResolveOutput(data []byte, query string) (queue.ResolvedTrack, error) {
	var info resolveInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return queue.ResolvedTrack{}, fmt.Errorf("parse resolve output: %w", err)
	}

	if info.Type == "playlist" {
		if len(info.Entries) == 0 {
			return queue.ResolvedTrack{}, fmt.Errorf("no results for %q", query)
		}
		info = info.Entries[0]
	}

	track := queue.ResolvedTrack{
		Title:        info.Title,
		Artist:       info.Artist,
		CanonicalURL: info.WebpageURL,
	}
	if track.Title == "" {
		track.Title = query
	}
	if track.Artist == "" {
		track.Artist = info.Uploader
	}
	if track.Artist == "" {
		track.Artist = "Unknown"
	}
	if track.CanonicalURL == "" {
		track.CanonicalURL = query
	}
	return track, nil
}

// Fetch downloads and transcodes the resolved source, forwarding progress
// line by line. Returns the absolute path of the produced file.
func (c *Client) Fetch(ctx context.Context, canonicalURL string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", fmt.Errorf("fetch options: %w", err)
	}

	args := buildFetchArgs(canonicalURL, opts)
	logger.Debugf("  Command: %s %s", bin, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, bin, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	var stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(1)
	go streamDimmed(&wg, stderrPipe, &stderrBuf)

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start yt-dlp: %w", err)
	}

	destination := ""
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if dest, ok := parseDestination(line); ok {
			destination = dest
			continue
		}

		// Cooperative cancellation checkpoint: skip callbacks once the
		// batch signal fired, CommandContext tears the process down.
		if upd, ok := parseProgressLine(line); ok && onProgress != nil && ctx.Err() == nil {
			onProgress(upd.DownloadedBytes, upd.TotalBytes)
		}
	}

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("yt-dlp failed: %w: %s", err, firstLine(stderrBuf.String()))
	}

	if destination == "" {
		return "", fmt.Errorf("yt-dlp reported no destination file")
	}

	info, err := os.Stat(destination)
	if err != nil {
		return "", fmt.Errorf("output file missing: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("output file is empty: %s", destination)
	}

	return destination, nil
}

func buildFetchArgs(canonicalURL string, opts queue.FetchOptions) []string {
	args := []string{
		"-x",
		"--audio-format", string(opts.Format),
		"--audio-quality", strconv.Itoa(opts.Bitrate),
		"-o", opts.OutputTemplate,
		"--newline",
		"--no-playlist",
		"--no-warnings",
	}
	if opts.SocketTimeoutSeconds > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(opts.SocketTimeoutSeconds))
	}
	if opts.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(opts.Retries))
	}
	if opts.EmbedThumbnail {
		args = append(args, "--embed-thumbnail")
	}
	return append(args, canonicalURL)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
