// Package interceptor implements the two CM requests the daemon
// handles itself instead of forwarding: ClockSync (reply with the
// daemon's own wallclock) and ImageContent (download, unpack, chunk
// and stream an image back to the requester).
package interceptor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aosedge/aos-messageproxy/internal/aosproto"
	"github.com/aosedge/aos-messageproxy/internal/chunker"
	"github.com/aosedge/aos-messageproxy/internal/downloader"
	"github.com/aosedge/aos-messageproxy/internal/logger"
	"github.com/aosedge/aos-messageproxy/internal/unpacker"
)

// Replier is how an interceptor action sends its reply back out on the
// same logical channel the request arrived on; bound to one
// bridge.Bridge's channel write path by the caller.
type Replier interface {
	Reply(methodName string, envelope *aosproto.CMEnvelope) error
}

// Now is overridable for tests; defaults to time.Now.
var Now = time.Now

// beforeStreaming is overridable for tests; called after the manifest
// is built and before any reply is sent.
var beforeStreaming = func(extractDir string) {}

// ClockSync replies to a ClockSyncRequest with the daemon's current
// wallclock.
func ClockSync(r Replier) error {
	env := &aosproto.CMEnvelope{
		Case:      aosproto.CaseClockSync,
		ClockSync: &aosproto.ClockSync{CurrentTimeUnixNano: Now().UnixNano()},
	}
	return r.Reply("ClockSync", env)
}

// ImageContentConfig points ImageContent at its working storage.
type ImageContentConfig struct {
	StoreDir  string
	ChunkSize int
}

// ImageContent downloads req.URL, unpacks it, and streams back one
// ImageContentInfo manifest followed by ordered ImageContent parts for
// every file. Any failure produces a single ImageContentInfo carrying
// Error instead; partial success is never sent.
func ImageContent(ctx context.Context, cfg ImageContentConfig, dl *downloader.Downloader, req *aosproto.ImageContentRequest, r Replier, log *logger.Logger) error {
	log = log.Fork("imagecontent[%s]", req.RequestID)

	workDir := filepath.Join(cfg.StoreDir, req.RequestID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return replyError(r, req.RequestID, err)
	}

	archivePath := filepath.Join(workDir, "archive.tar")
	if err := dl.Download(ctx, req.URL, archivePath); err != nil {
		log.Warnf("download failed: %s", err)
		return replyError(r, req.RequestID, err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return replyError(r, req.RequestID, err)
	}
	extractDir := filepath.Join(workDir, "content")
	_, err = unpacker.Unpack(archive, extractDir)
	archive.Close()
	if err != nil {
		log.Warnf("unpack failed: %s", err)
		return replyError(r, req.RequestID, err)
	}

	manifest, err := chunker.BuildManifest(extractDir, cfg.ChunkSize)
	if err != nil {
		log.Warnf("manifest build failed: %s", err)
		return replyError(r, req.RequestID, err)
	}

	beforeStreaming(extractDir)

	// Every chunk is read off disk before the first reply goes out:
	// the success manifest must never be followed by a failure reply,
	// and the chunker re-reads files that may have changed since the
	// manifest was built.
	var contents []*aosproto.ImageContent
	for _, f := range manifest.Files {
		parts := manifest.PartsCount(f)
		for part := uint32(0); part < parts; part++ {
			data, err := manifest.ChunkFile(f.RelativePath, part)
			if err != nil {
				log.Warnf("chunking %s part %d failed: %s", f.RelativePath, part, err)
				return replyError(r, req.RequestID, err)
			}
			contents = append(contents, &aosproto.ImageContent{
				RequestID:    req.RequestID,
				RelativePath: f.RelativePath,
				PartsCount:   parts,
				Part:         part,
				Data:         data,
			})
		}
	}

	info := &aosproto.CMEnvelope{
		Case: aosproto.CaseImageContentInfo,
		ImageContentInfo: &aosproto.ImageContentInfo{
			RequestID: req.RequestID,
			Files:     manifest.Files,
		},
	}
	if err := r.Reply("ImageContentInfo", info); err != nil {
		return fmt.Errorf("interceptor: sending ImageContentInfo: %w", err)
	}
	for _, c := range contents {
		env := &aosproto.CMEnvelope{Case: aosproto.CaseImageContent, ImageContent: c}
		if err := r.Reply("ImageContent", env); err != nil {
			return fmt.Errorf("interceptor: sending ImageContent part %d of %s: %w", c.Part, c.RelativePath, err)
		}
	}
	log.Infof("streamed %d files", len(manifest.Files))
	return nil
}

// aosCodeFailed is the generic failure code carried in error replies.
const aosCodeFailed = 1

func replyError(r Replier, requestID string, cause error) error {
	env := &aosproto.CMEnvelope{
		Case: aosproto.CaseImageContentInfo,
		ImageContentInfo: &aosproto.ImageContentInfo{
			RequestID: requestID,
			Error:     &aosproto.ErrorInfo{AosCode: aosCodeFailed, Message: cause.Error()},
		},
	}
	return r.Reply("ImageContentInfo", env)
}
