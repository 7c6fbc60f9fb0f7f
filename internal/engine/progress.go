package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// progressUpdate is one parsed [download] status line, converted to bytes.
// TotalBytes is 0 when yt-dlp cannot estimate the size.
type progressUpdate struct {
	DownloadedBytes int64
	TotalBytes      int64
}

var (
	// "[download]  45.2% of 3.45MiB at 1.2MiB/s ETA 00:02"
	// "[download] 100% of ~ 3.45MiB in 00:05"
	percentRe = regexp.MustCompile(`^\[download\]\s+([\d.]+)% of ~?\s*([\d.]+)(TiB|GiB|MiB|KiB|B)`)
	// "[download]  1.23MiB at 512.00KiB/s (frag 3/17)" — size unknown
	absoluteRe = regexp.MustCompile(`^\[download\]\s+([\d.]+)(TiB|GiB|MiB|KiB|B)\s+at\s`)
	// "[download]  45.2% of Unknown ..." — neither side known
	unknownRe = regexp.MustCompile(`^\[download\]\s+[\d.]+% of Unknown`)
)

// parseProgressLine interprets a single --newline status line.
func parseProgressLine(line string) (progressUpdate, bool) {
	if m := percentRe.FindStringSubmatch(line); m != nil {
		pct, err1 := strconv.ParseFloat(m[1], 64)
		size, err2 := parseSize(m[2], m[3])
		if err1 != nil || err2 != nil {
			return progressUpdate{}, false
		}
		return progressUpdate{
			DownloadedBytes: int64(pct / 100 * float64(size)),
			TotalBytes:      size,
		}, true
	}

	if m := absoluteRe.FindStringSubmatch(line); m != nil {
		size, err := parseSize(m[1], m[2])
		if err != nil {
			return progressUpdate{}, false
		}
		return progressUpdate{DownloadedBytes: size}, true
	}

	if unknownRe.MatchString(line) {
		return progressUpdate{}, true
	}

	return progressUpdate{}, false
}

func parseSize(value, unit string) (int64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", value, err)
	}

	mult := float64(1)
	switch unit {
	case "B":
	case "KiB":
		mult = 1 << 10
	case "MiB":
		mult = 1 << 20
	case "GiB":
		mult = 1 << 30
	case "TiB":
		mult = 1 << 40
	default:
		return 0, fmt.Errorf("unknown size unit %q", unit)
	}
	return int64(v * mult), nil
}

const alreadyDownloadedSuffix = " has already been downloaded"

// parseDestination picks output paths out of the yt-dlp log. The ExtractAudio
// destination is printed after the raw download one and wins, which is why
// Fetch keeps overwriting with the latest match.
func parseDestination(line string) (string, bool) {
	for _, prefix := range []string{"[ExtractAudio] Destination: ", "[download] Destination: "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}

	if strings.HasPrefix(line, "[download] ") && strings.HasSuffix(line, alreadyDownloadedSuffix) {
		path := strings.TrimPrefix(line, "[download] ")
		path = strings.TrimSuffix(path, alreadyDownloadedSuffix)
		return strings.TrimSpace(path), true
	}

	return "", false
}

// streamDimmed echoes subprocess stderr to the console in dim gray while
// keeping a copy for error reporting.
func streamDimmed(wg *sync.WaitGroup, r io.Reader, buf *bytes.Buffer) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		fmt.Printf("\033[2m  %s\033[0m\n", line)
	}
}
