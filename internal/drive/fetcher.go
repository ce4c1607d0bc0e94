// Package drive resolves remote file identifiers to in-memory document
// blobs via a tiered fallback strategy.
//
// Tier 1 uses the storage provider's direct-media endpoint with the
// vault's bearer token (reaches private documents the token's owner can
// access). Tier 2 falls back to the unauthenticated public download
// endpoint, which resolves "anyone with the link" documents even when no
// credential is available. The tiers run strictly in order and never in
// parallel; tier 2 runs only when tier 1 did not return success.
package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// maxDocumentSize caps fetched blobs at 50MB, the portal's upload limit.
const maxDocumentSize = 50 * 1024 * 1024

// Document is the in-memory representation of a fetched remote file.
// Valid for the lifetime of one chat session; never persisted.
type Document struct {
	FileID   string
	FileName string
	MimeType string
	Data     []byte
}

// tokenSource is the slice of the vault the fetcher needs.
type tokenSource interface {
	Retrieve() (string, bool)
	ReportUnauthorized()
}

// Fetcher downloads remote documents, preferring the authorized path
// when a credential is available.
type Fetcher struct {
	client      *http.Client
	tokens      tokenSource
	storageHost string
	publicHost  string
	logger      *slog.Logger
}

// Config contains the parameters for NewFetcher.
type Config struct {
	Tokens      tokenSource  // required
	StorageHost string       // required, e.g. https://www.googleapis.com/drive/v3
	PublicHost  string       // required, e.g. https://drive.google.com
	HTTPClient  *http.Client // optional, default 60s timeout
	Logger      *slog.Logger // optional
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if cfg.StorageHost == "" || cfg.PublicHost == "" {
		return nil, fmt.Errorf("storage and public hosts are required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{
		client:      client,
		tokens:      cfg.Tokens,
		storageHost: cfg.StorageHost,
		publicHost:  cfg.PublicHost,
		logger:      logger,
	}, nil
}

// Fetch resolves fileID to a Document.
//
// Returns *PermissionError when both tiers failed and the last observed
// status was 403 or 404, ErrTransient (wrapped) otherwise.
func (f *Fetcher) Fetch(ctx context.Context, fileID, fileName, mimeType string) (*Document, error) {
	lastStatus := 0
	var lastErr error

	// Tier 1: authorized direct-media endpoint, only with a valid token.
	if token, ok := f.tokens.Retrieve(); ok {
		mediaURL := fmt.Sprintf("%s/files/%s?alt=media&supportsAllDrives=true",
			f.storageHost, url.PathEscape(fileID))

		data, status, err := f.get(ctx, mediaURL, "Bearer "+token)
		if err == nil && status/100 == 2 {
			return &Document{FileID: fileID, FileName: fileName, MimeType: mimeType, Data: data}, nil
		}
		if status == http.StatusUnauthorized {
			f.tokens.ReportUnauthorized()
		}
		if status != 0 {
			lastStatus = status
		}
		if err != nil {
			lastErr = err
		}
		f.logger.Warn("authorized fetch failed, trying public endpoint",
			"file_id", fileID, "status", status, "error", err)
	}

	// Tier 2: unauthenticated public download endpoint.
	publicURL := fmt.Sprintf("%s/uc?export=download&id=%s",
		f.publicHost, url.QueryEscape(fileID))

	data, status, err := f.get(ctx, publicURL, "")
	if err == nil && status/100 == 2 {
		return &Document{FileID: fileID, FileName: fileName, MimeType: mimeType, Data: data}, nil
	}
	if status != 0 {
		lastStatus = status
	}
	if err != nil {
		lastErr = err
	}
	f.logger.Warn("public fetch failed", "file_id", fileID, "status", status, "error", err)

	if lastStatus == http.StatusForbidden || lastStatus == http.StatusNotFound {
		return nil, &PermissionError{Status: lastStatus}
	}
	// Callers classify on the message, so the last attempt's detail
	// (oversized body, transport failure) must survive the wrap.
	if lastErr != nil {
		return nil, fmt.Errorf("%w: file %s: %v", ErrTransient, fileID, lastErr)
	}
	return nil, fmt.Errorf("%w: file %s (last status %d)", ErrTransient, fileID, lastStatus)
}

// get performs one GET attempt. Returns the body only for 2xx statuses;
// non-2xx responses are drained and reported via the status code.
func (f *Fetcher) get(ctx context.Context, rawURL, authorization string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, resp.StatusCode, fmt.Errorf("document exceeds %d byte limit", maxDocumentSize)
	}
	return data, resp.StatusCode, nil
}

// ViewURL returns the browser-facing view link for a file.
func (f *Fetcher) ViewURL(fileID string) string {
	return fmt.Sprintf("%s/file/d/%s/view", f.publicHost, url.PathEscape(fileID))
}

// DownloadURL returns the public download link for a file.
func (f *Fetcher) DownloadURL(fileID string) string {
	return fmt.Sprintf("%s/uc?export=download&id=%s", f.publicHost, url.QueryEscape(fileID))
}
