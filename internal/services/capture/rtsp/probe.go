// Package rtsp checks that an RTSP camera answers DESCRIBE before handing it
// to the decoder.
package rtsp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/services/capture"
)

// ProbingOpener runs a DESCRIBE handshake on rtsp:// and rtsps:// URIs and
// only calls Next when the server advertises a video track. Other URIs pass
// straight through.
type ProbingOpener struct {
	Next    capture.Opener
	Timeout time.Duration
	Logger  *logger.Logger
	// Describe performs the handshake; nil uses gortsplib.
	Describe func(ctx context.Context, uri string, timeout time.Duration) (*description.Session, error)
}

// NewProbingOpener wraps next with a gortsplib DESCRIBE probe.
func NewProbingOpener(next capture.Opener, timeout time.Duration, logger *logger.Logger) *ProbingOpener {
	return &ProbingOpener{Next: next, Timeout: timeout, Logger: logger}
}

// Open probes uri when it is an RTSP address, then opens it with Next.
func (p *ProbingOpener) Open(ctx context.Context, uri string) (capture.Source, error) {
	if p.Timeout <= 0 || !isRTSP(uri) {
		return p.Next.Open(ctx, uri)
	}

	describe := p.Describe
	if describe == nil {
		describe = Describe
	}

	desc, err := describe(ctx, uri, p.Timeout)
	if err != nil {
		return nil, err
	}
	if !hasVideo(desc) {
		return nil, fmt.Errorf("no video track advertised by %s", redact(uri))
	}

	p.Logger.Debug("DESCRIBE %s: %d media tracks", redact(uri), len(desc.Medias))
	return p.Next.Open(ctx, uri)
}

// Describe connects to the server of uri and returns its session description.
// Dial, request and response are each bounded by timeout; the connection is
// closed before returning.
func Describe(ctx context.Context, uri string, timeout time.Duration) (*description.Session, error) {
	parsedURL, err := base.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RTSP URL: %w", err)
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := client.Start(parsedURL.Scheme, parsedURL.Host); err != nil {
		return nil, fmt.Errorf("failed to connect to RTSP server: %w", err)
	}
	defer client.Close()

	desc, _, err := client.Describe(parsedURL)
	if err != nil {
		return nil, fmt.Errorf("DESCRIBE request failed: %w", err)
	}
	return desc, nil
}

func isRTSP(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "rtsp://") || strings.HasPrefix(lower, "rtsps://")
}

func hasVideo(desc *description.Session) bool {
	if desc == nil {
		return false
	}
	for _, media := range desc.Medias {
		if media.Type == description.MediaTypeVideo {
			return true
		}
	}
	return false
}

// redact drops credentials from a camera URI before it is logged.
func redact(uri string) string {
	scheme, rest, found := strings.Cut(uri, "://")
	if !found {
		return uri
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
