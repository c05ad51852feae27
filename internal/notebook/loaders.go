package notebook

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Loader fetches the raw text of a source origin. The text is chunked
// and indexed by the caller.
type Loader func(ctx context.Context, origin string) (string, error)

var (
	scriptRe     = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe        = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// defaultLoaders maps source type to its loader. Unknown types are a
// configuration error rejected at the call boundary.
func defaultLoaders() map[string]Loader {
	return map[string]Loader{
		"pdf":     loadPDF,
		"web":     loadWeb,
		"youtube": loadYouTube,
	}
}

// loadPDF extracts text with the poppler pdftotext tool. Keeping the
// extraction out of process avoids linking a PDF parser.
func loadPDF(ctx context.Context, origin string) (string, error) {
	out, err := exec.CommandContext(ctx, "pdftotext", "-layout", origin, "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext %s: %w", origin, err)
	}
	return string(out), nil
}

// loadWeb fetches a page and strips its markup down to visible text.
func loadWeb(ctx context.Context, origin string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", origin, err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", origin, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", origin, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", origin, err)
	}

	return stripHTML(string(body)), nil
}

// timedTextURL is the caption endpoint for loadYouTube. Tests point it
// at a local server.
var timedTextURL = "https://video.google.com/timedtext"

// loadYouTube fetches the video's English captions. Watch pages are
// script-rendered, so scraping their HTML yields nothing useful; the
// transcript is the video's only text content.
func loadYouTube(ctx context.Context, origin string) (string, error) {
	videoID, err := youtubeVideoID(origin)
	if err != nil {
		return "", err
	}

	reqURL := fmt.Sprintf("%s?lang=en&v=%s", timedTextURL, url.QueryEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", origin, err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch transcript for %s: %w", origin, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch transcript for %s: status %d", origin, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read transcript for %s: %w", origin, err)
	}

	text, err := parseTimedText(body)
	if err != nil {
		return "", fmt.Errorf("decode transcript for %s: %w", origin, err)
	}
	if text == "" {
		return "", fmt.Errorf("no transcript available for %s", origin)
	}
	return text, nil
}

// youtubeVideoID extracts the video id from the watch URL forms:
// youtube.com/watch?v=ID, youtu.be/ID, youtube.com/embed/ID.
func youtubeVideoID(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse youtube url %s: %w", origin, err)
	}

	id := u.Query().Get("v")
	if id == "" && strings.Contains(u.Host, "youtu.be") {
		id = strings.Trim(u.Path, "/")
	}
	if id == "" {
		if rest, ok := strings.CutPrefix(u.Path, "/embed/"); ok {
			id = strings.Trim(rest, "/")
		}
	}
	if id == "" {
		return "", fmt.Errorf("no video id in youtube url %s", origin)
	}
	return id, nil
}

// parseTimedText flattens a timedtext caption document into prose.
// The endpoint escapes entities a second time inside the XML text, so
// the lines are HTML-unescaped after decoding.
func parseTimedText(data []byte) (string, error) {
	var doc struct {
		Lines []struct {
			Value string `xml:",chardata"`
		} `xml:"text"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		if t := strings.TrimSpace(html.UnescapeString(line.Value)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

func stripHTML(s string) string {
	s = scriptRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
