package manifest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/SteelMorgan/mc-bridge/internal/retry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultURL is the public launcher version manifest
const DefaultURL = "https://launchermeta.mojang.com/mc/game/version_manifest.json"

const documentTimeout = 30 * time.Second

// ErrChecksumMismatch is returned when a downloaded binary does not match the manifest digest
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Release is the latest version and where its server binary lives
type Release struct {
	ID          string
	DownloadURL string
	SHA1        string // empty when the document carries no digest
	Size        int64
}

type versionManifest struct {
	Versions []struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"versions"`
}

type versionDocument struct {
	ID        string `json:"id"`
	Downloads struct {
		Server *struct {
			URL  string `json:"url"`
			SHA1 string `json:"sha1"`
			Size int64  `json:"size"`
		} `json:"server"`
	} `json:"downloads"`
}

// StatusError is an unexpected HTTP status
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Retryable reports whether another attempt may succeed
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client resolves the latest release from the version manifest service
type Client struct {
	url        string
	httpClient *http.Client
	retryCfg   retry.Config
}

// Option configures a Client
type Option func(*Client)

// WithRetry replaces the retry configuration used for manifest documents
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// NewClient creates a manifest client for manifestURL
func NewClient(manifestURL string, opts ...Option) *Client {
	if manifestURL == "" {
		manifestURL = DefaultURL
	}

	c := &Client{
		url: manifestURL,
		// No client timeout: binary downloads are bounded by the caller's context
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		retryCfg:   retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Latest fetches the manifest, takes versions[0] and resolves its server download
func (c *Client) Latest(ctx context.Context) (Release, error) {
	var m versionManifest
	if err := c.getJSON(ctx, c.url, "version manifest", &m); err != nil {
		return Release{}, err
	}
	if len(m.Versions) == 0 {
		return Release{}, &domain.ParseError{Source: "version manifest", Err: errors.New("no versions listed")}
	}

	latest := m.Versions[0]
	if latest.ID == "" || latest.URL == "" {
		return Release{}, &domain.ParseError{Source: "version manifest", Err: errors.New("latest entry missing id or url")}
	}

	var doc versionDocument
	if err := c.getJSON(ctx, latest.URL, "version document", &doc); err != nil {
		return Release{}, err
	}
	if doc.Downloads.Server == nil || doc.Downloads.Server.URL == "" {
		return Release{}, &domain.ParseError{
			Source: "version document",
			Err:    fmt.Errorf("version %s has no server download", latest.ID),
		}
	}

	rel := Release{
		ID:          latest.ID,
		DownloadURL: doc.Downloads.Server.URL,
		SHA1:        doc.Downloads.Server.SHA1,
		Size:        doc.Downloads.Server.Size,
	}

	log.Debug().
		Str("version", rel.ID).
		Str("download_url", rel.DownloadURL).
		Msg("Resolved latest release")

	return rel, nil
}

// Download streams the release binary into w and verifies its digest when known
func (c *Client) Download(ctx context.Context, rel Release, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rel.DownloadURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &domain.TransportError{Op: "download " + rel.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &domain.TransportError{
			Op:  "download " + rel.ID,
			Err: &StatusError{URL: rel.DownloadURL, Code: resp.StatusCode},
		}
	}

	digest := sha1.New()
	n, err := io.Copy(io.MultiWriter(w, digest), resp.Body)
	if err != nil {
		return n, &domain.TransportError{Op: "download " + rel.ID, Err: err}
	}

	if rel.SHA1 != "" {
		if got := hex.EncodeToString(digest.Sum(nil)); got != rel.SHA1 {
			return n, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, rel.SHA1, got)
		}
	}

	log.Info().
		Str("version", rel.ID).
		Int64("bytes", n).
		Msg("Server binary downloaded")

	return n, nil
}

func (c *Client) getJSON(ctx context.Context, url, source string, out any) error {
	body, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]byte, error) {
		reqCtx, cancel := context.WithTimeout(ctx, documentTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &domain.TransportError{Op: "fetch " + source, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &domain.TransportError{Op: "fetch " + source, Err: &StatusError{URL: url, Code: resp.StatusCode}}
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &domain.TransportError{Op: "read " + source, Err: err}
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ParseError{Source: source, Err: err}
	}
	return nil
}
