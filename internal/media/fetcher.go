package media

import (
	"context"
	"encoding/json"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Downloader fetches and decodes one media payload into memory. The live
// protocol connection satisfies this.
type Downloader interface {
	DownloadMedia(ctx context.Context, ref json.RawMessage) ([]byte, error)
}

// Fetcher stores inbound media under a public root and hands back stable
// root-relative URLs. It never fails its caller: any error degrades to "no
// media" so a fetch problem cannot sink the message it belongs to.
type Fetcher struct {
	root    string
	baseURL string
}

func NewFetcher(root, baseURL string) *Fetcher {
	return &Fetcher{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

// Fetch downloads the payload and writes it to a uniquely named file.
// Returns the relative URL, or nil when anything goes wrong.
func (f *Fetcher) Fetch(ctx context.Context, dl Downloader, ref json.RawMessage, filename, mimeType string) *string {
	if dl == nil || len(ref) == 0 {
		return nil
	}

	data, err := dl.DownloadMedia(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("filename", filename).Msg("media download failed, persisting without media")
		return nil
	}
	if len(data) == 0 {
		log.Warn().Str("filename", filename).Msg("media download returned empty payload")
		return nil
	}

	if err := os.MkdirAll(f.root, 0o755); err != nil {
		log.Error().Err(err).Str("root", f.root).Msg("media root unavailable")
		return nil
	}

	name := uuid.NewString() + extensionFor(filename, mimeType)
	if err := os.WriteFile(filepath.Join(f.root, name), data, 0o644); err != nil {
		log.Error().Err(err).Str("file", name).Msg("media write failed")
		return nil
	}

	url := path.Join(f.baseURL, name)
	return &url
}

// extensionFor derives a file extension from the supplied filename, falling
// back to the declared MIME type.
func extensionFor(filename, mimeType string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	if mimeType != "" {
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ".bin"
}
