// Package archive downloads the protocol PDFs referenced by harvest
// entries into a blob store. It is a separable stage: it reads a harvest
// JSONL file, skips documents that are already archived, and keeps going
// past individual failures.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/harvest"
)

// Config controls the downloader.
type Config struct {
	// UserAgent is sent with every download request.
	UserAgent string
	// Delay is the politeness pause colly applies between requests to the
	// same host.
	Delay time.Duration
	// Timeout bounds each download request (default 60s).
	Timeout time.Duration
	// Prefix namespaces blob keys (default "protocols").
	Prefix string
}

const (
	defaultTimeout = 60 * time.Second
	defaultPrefix  = "protocols"
	pdfContentType = "application/pdf"
)

// Summary reports what a Run did.
type Summary struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// Downloader fetches protocol documents and stores them as blobs.
type Downloader struct {
	cfg    Config
	store  harvest.BlobStore
	base   *colly.Collector
	logger *zap.Logger
}

// NewDownloader builds a Downloader over the blob store.
func NewDownloader(store harvest.BlobStore, cfg Config, logger *zap.Logger) (*Downloader, error) {
	if store == nil {
		return nil, errors.New("downloader requires a blob store")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.Async(false))
	base.WithTransport(newHTTPTransport())
	base.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	if cfg.Delay > 0 {
		if err := base.Limit(&colly.LimitRule{DomainGlob: "*", Delay: cfg.Delay}); err != nil {
			return nil, fmt.Errorf("apply download limit rule: %w", err)
		}
	}

	return &Downloader{
		cfg:    cfg,
		store:  store,
		base:   base,
		logger: logger,
	}, nil
}

// Run downloads each entry's protocol document. Entries whose blob
// already exists with nonzero size are skipped, so an interrupted archive
// run resumes where it left off. Failures log and count, never abort.
func (d *Downloader) Run(ctx context.Context, entries []harvest.HarvestEntry) (Summary, error) {
	var summary Summary
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if entry.ProtocolURL == "" || entry.ProtocolFilename == "" {
			d.logger.Warn("harvest entry missing protocol reference",
				zap.String("award_id", entry.AwardID))
			summary.Failed++
			continue
		}

		key := d.cfg.Prefix + "/" + entry.ProtocolFilename
		if size, err := d.store.Stat(ctx, key); err == nil && size > 0 {
			d.logger.Debug("protocol already archived",
				zap.String("award_id", entry.AwardID),
				zap.String("key", key))
			summary.Skipped++
			continue
		}

		data, contentType, err := d.fetch(ctx, entry.ProtocolURL)
		if err != nil {
			d.logger.Warn("protocol download failed",
				zap.String("award_id", entry.AwardID),
				zap.String("url", entry.ProtocolURL),
				zap.Error(err))
			summary.Failed++
			continue
		}
		if contentType == "" {
			contentType = pdfContentType
		}

		uri, err := d.store.Put(ctx, key, contentType, data)
		if err != nil {
			d.logger.Warn("protocol store failed",
				zap.String("award_id", entry.AwardID),
				zap.String("key", key),
				zap.Error(err))
			summary.Failed++
			continue
		}
		d.logger.Info("protocol archived",
			zap.String("award_id", entry.AwardID),
			zap.String("uri", uri),
			zap.Int("bytes", len(data)))
		summary.Downloaded++
	}
	return summary, nil
}

// fetch retrieves one document with a collector cloned from the base so
// per-request callbacks never leak between downloads.
func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, string, error) {
	collector := d.base.Clone()

	var (
		body        []byte
		contentType string
		fetchErr    error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		contentType = r.Headers.Get("Content-Type")
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("download canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, "", fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return nil, "", fmt.Errorf("download %s: %w", url, fetchErr)
		}
		if len(body) == 0 {
			return nil, "", fmt.Errorf("download %s: empty body", url)
		}
		return body, contentType, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// KeyFor returns the blob key an entry archives under, for callers that
// need to locate a document later.
func (d *Downloader) KeyFor(entry harvest.HarvestEntry) string {
	return d.cfg.Prefix + "/" + strings.TrimPrefix(entry.ProtocolFilename, "/")
}
