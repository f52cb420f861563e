package plugins

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"

	"github.com/mxscrape/mx-scraper/pkg/mxmodel"
)

// defaultSubprocessTimeout bounds a single gallery-dl invocation, mirroring
// hostapi_shell.go's defaultShellTimeout for the same reason: a hung
// subprocess must not wedge the whole resolver indefinitely.
const defaultSubprocessTimeout = 5 * time.Minute

// SubprocessPlugin is the always-registered static plugin driving an
// external gallery-dl-compatible binary via os/exec, in the idiom of
// hostapi_shell.go's allowlisted exec.CommandContext pattern (no shell
// interpolation, explicit argv). Grounded directly on
// original_source/src/plugins/gallery_dl.rs::GalleryDLPlugin, the
// original's only statically-registered (non-dynamically-discovered)
// plugin.
type SubprocessPlugin struct {
	name string
	bin  string
}

// NewSubprocessPlugin returns a SubprocessPlugin invoking bin as the
// gallery-dl-compatible executable.
func NewSubprocessPlugin(name, bin string) *SubprocessPlugin {
	return &SubprocessPlugin{name: name, bin: bin}
}

func (p *SubprocessPlugin) Name() string { return p.name }

func (p *SubprocessPlugin) Init(ctx context.Context) error    { return nil }
func (p *SubprocessPlugin) Destroy(ctx context.Context) error { return nil }

// IsSupported shells out with --extractor-info, matching the source's
// one-liner: a term is supported iff the binary's extractor lookup
// exits zero.
func (p *SubprocessPlugin) IsSupported(ctx context.Context, term string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultSubprocessTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.bin, term, "--extractor-info")
	return cmd.Run() == nil, nil
}

// galleryItem mirrors the two-element ([meta]) / three-element
// ([url, metadata]) tuple shapes gallery-dl emits per-line-item on
// --dump-json, collapsed into a single permissive struct since Go lacks
// Rust's untagged-enum deserialization: the first emitted item carries
// gallery-level fields, every later item carries a page URL.
type galleryItem struct {
	Title        string   `json:"title"`
	Manga        string   `json:"manga"`
	TitleAliases []string `json:"title_aliases"`
	GalleryID    string   `json:"gallery_id"`
	Tags         []string `json:"tags"`
	Category     string   `json:"category"`
	Language     string   `json:"language"`
	URL          string   `json:"url"`
	Filename     string   `json:"filename"`
	Extension    string   `json:"extension"`
}

// GetBook runs `bin <term> --dump-json` and builds a Book from the
// emitted gallery + per-page JSON objects.
func (p *SubprocessPlugin) GetBook(ctx context.Context, term string) (*mxmodel.Book, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultSubprocessTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.bin, term, "--dump-json")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Errorf("%s %s --dump-json: %v\nstdout: %s\nstderr: %s", p.bin, term, err, stdout.String(), stderr.String())
	}

	var rawItems [][]json.RawMessage
	if err := json.Unmarshal(stdout.Bytes(), &rawItems); err != nil {
		return nil, errors.Wrapf(err, "parsing %s --dump-json output for %q", p.bin, term)
	}

	return buildBookFromGalleryItems(term, rawItems)
}

func buildBookFromGalleryItems(term string, rawItems [][]json.RawMessage) (*mxmodel.Book, error) {
	book := &mxmodel.Book{URL: term, Title: term}
	seenTags := map[string]struct{}{}

	for i, tuple := range rawItems {
		if i == 0 {
			var gallery galleryItem
			if len(tuple) >= 2 {
				_ = json.Unmarshal(tuple[1], &gallery)
			}
			title := gallery.Title
			if title == "" {
				title = gallery.Manga
			}
			if title != "" {
				book.Title = title
			}
			if gallery.GalleryID != "" {
				book.SourceID = gallery.GalleryID
			}
			for _, alias := range gallery.TitleAliases {
				book.TitleAliases = append(book.TitleAliases, mxmodel.TitleAlias{Title: alias})
			}
			addTag(&book.Tags, seenTags, gallery.Category)
			addTag(&book.Tags, seenTags, gallery.Language)
			for _, tag := range gallery.Tags {
				addTag(&book.Tags, seenTags, tag)
			}
			continue
		}

		if len(tuple) < 3 {
			continue
		}
		var pageURL string
		_ = json.Unmarshal(tuple[1], &pageURL)
		var page galleryItem
		_ = json.Unmarshal(tuple[2], &page)

		filename := page.Filename
		if filename != "" && page.Extension != "" {
			filename = filename + "." + page.Extension
		}

		if len(book.Chapters) == 0 {
			book.Chapters = []mxmodel.Chapter{{Title: book.Title, URL: term}}
		}
		ch := &book.Chapters[0]
		ch.Pages = append(ch.Pages, mxmodel.Page{
			URL:      pageURL,
			Number:   len(ch.Pages),
			Filename: filename,
		})
		for _, tag := range page.Tags {
			addTag(&book.Tags, seenTags, tag)
		}
	}

	return book, nil
}

func addTag(tags *[]mxmodel.Tag, seen map[string]struct{}, name string) {
	if name == "" {
		return
	}
	if _, ok := seen[name]; ok {
		return
	}
	seen[name] = struct{}{}
	*tags = append(*tags, mxmodel.Tag{Name: name})
}

// Search is unimplemented: the source's GalleryDLPlugin::search is
// unimplemented!() too.
func (p *SubprocessPlugin) Search(ctx context.Context, term string, opt SearchOption) ([]mxmodel.Book, error) {
	return nil, ErrSearchUnimplemented
}

// DownloadURL reports "not handled" — gallery-dl has no plugin-specific
// per-page downloader in the source either; every download goes through
// the Direct resolver.
func (p *SubprocessPlugin) DownloadURL(ctx context.Context, dest string, url string) (bool, error) {
	return false, nil
}
