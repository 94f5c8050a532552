package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

const (
	releasesURL = "https://api.github.com/repos/oszuidwest/zwfm-noisemeter/releases/latest"

	releaseFirstCheck   = 30 * time.Second
	releaseInterval     = 24 * time.Hour
	releaseTimeout      = 30 * time.Second
	releaseAttempts     = 3
	releaseRetryInitial = time.Minute
)

// errRetryLater marks a lookup that failed for a transient reason.
var errRetryLater = errors.New("release lookup should be retried")

// releaseChecker tracks the newest published release so the web interface
// can offer an update. It is safe for concurrent use.
type releaseChecker struct {
	url    string
	client *http.Client

	mu       sync.RWMutex
	latest   string
	etag     string
	notified string
}

func newReleaseChecker(url string) *releaseChecker {
	return &releaseChecker{
		url:    url,
		client: &http.Client{Timeout: releaseTimeout},
	}
}

// Run looks up the latest release shortly after start and then daily until
// ctx is done.
func (rc *releaseChecker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in release checker", "panic", r)
		}
	}()

	wait := releaseFirstCheck
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := rc.lookupWithRetry(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("release lookup failed", "error", err)
		}
		wait = releaseInterval
	}
}

// lookupWithRetry retries transient failures with a growing delay.
func (rc *releaseChecker) lookupWithRetry(ctx context.Context) error {
	backoff := util.NewBackoff(releaseRetryInitial, 4*releaseRetryInitial)
	var err error
	for range releaseAttempts {
		if err = rc.lookup(ctx); !errors.Is(err, errRetryLater) {
			return err
		}
		if backoff.Attempts() == releaseAttempts-1 {
			break
		}
		if werr := backoff.Wait(ctx, 0); werr != nil {
			return werr
		}
	}
	return err
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// lookup fetches the latest release once. Unchanged responses (ETag),
// repositories without releases and pre-releases leave the known release as is.
func (rc *releaseChecker) lookup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, releaseTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.url, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-noisemeter/"+Version)
	rc.mu.RLock()
	if rc.etag != "" {
		req.Header.Set("If-None-Match", rc.etag)
	}
	rc.mu.RUnlock()

	resp, err := rc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errRetryLater, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch code := resp.StatusCode; {
	case code == http.StatusNotModified, code == http.StatusNotFound:
		return nil
	case code == http.StatusForbidden, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("%w: status %d", errRetryLater, code)
	case code != http.StatusOK:
		return fmt.Errorf("release lookup returned status %d", code)
	}

	var rel githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return fmt.Errorf("%w: decode release: %w", errRetryLater, err)
	}
	if rel.Draft || rel.Prerelease {
		return nil
	}
	if !semver.IsValid(canonicalVersion(rel.TagName)) {
		return fmt.Errorf("release tag %q is not a version", rel.TagName)
	}

	rc.record(normalizeVersion(rel.TagName), resp.Header.Get("ETag"))
	return nil
}

// record stores a found release and logs each newer one once.
func (rc *releaseChecker) record(latest, etag string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.latest = latest
	if etag != "" {
		rc.etag = etag
	}
	if rc.notified != latest && updateAvailable(latest, Version) {
		rc.notified = latest
		slog.Info("newer release available", "current", normalizeVersion(Version), "latest", latest)
	}
}

// Info returns the running and latest known version for the web interface.
func (rc *releaseChecker) Info() types.VersionInfo {
	rc.mu.RLock()
	latest := rc.latest
	rc.mu.RUnlock()

	return types.VersionInfo{
		Current:     normalizeVersion(Version),
		Latest:      latest,
		Commit:      Commit,
		BuildTime:   formatBuildTime(BuildTime),
		UpdateAvail: updateAvailable(latest, Version),
	}
}

// formatBuildTime renders an RFC 3339 build timestamp for humans and
// returns other values unchanged.
func formatBuildTime(v string) string {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return v
	}
	return util.HumanTime(t)
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

func canonicalVersion(v string) string {
	return "v" + normalizeVersion(v)
}

// updateAvailable reports whether latest is a newer release than current.
// Development builds never report an update.
func updateAvailable(latest, current string) bool {
	cur := canonicalVersion(current)
	if latest == "" || !semver.IsValid(cur) {
		return false
	}
	return semver.Compare(canonicalVersion(latest), cur) > 0
}
