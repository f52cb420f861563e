package downloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxscrape/mx-scraper/pkg/fetchcontext"
	"github.com/mxscrape/mx-scraper/pkg/mxmodel"
	"github.com/mxscrape/mx-scraper/pkg/plugins"
)

type stubHTTPClient struct {
	bodies map[string][]byte
	err    error
	calls  []string
}

func (s *stubHTTPClient) Download(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error) {
	s.calls = append(s.calls, rawURL)
	if s.err != nil {
		return nil, s.err
	}
	return s.bodies[rawURL], nil
}

type stubPluginDownloader struct {
	handled bool
	err     error
	calls   int
}

func (s *stubPluginDownloader) DownloadURL(ctx context.Context, pluginName, dest, url string) (bool, error) {
	s.calls++
	return s.handled, s.err
}

func newTestBook() *mxmodel.Book {
	return &mxmodel.Book{
		Title:    "Test Book",
		SourceID: "src-1",
		Chapters: []mxmodel.Chapter{
			{
				Title: "Chapter 1",
				Pages: []mxmodel.Page{
					{Title: "p1", URL: "http://x/1.jpg", Filename: "001.jpg"},
					{Title: "p2", URL: "http://x/2.jpg", Filename: "002.jpg"},
				},
			},
		},
	}
}

func TestDownloadBookWritesPagesAndPromotes(t *testing.T) {
	root := t.TempDir()
	client := &stubHTTPClient{bodies: map[string][]byte{
		"http://x/1.jpg": []byte("one"),
		"http://x/2.jpg": []byte("two"),
	}}

	d := New(client, &stubPluginDownloader{}, Folders{
		DownloadRoot: filepath.Join(root, "download"),
		TempRoot:     filepath.Join(root, "temp"),
		MetadataRoot: filepath.Join(root, "metadata"),
	}, Snapshot{PageMiniBatchSize: 2})

	result := plugins.FetchResult{QueryTerm: "term", Book: newTestBook(), PluginName: "p1"}

	outcomes, err := d.BatchDownload(context.Background(), []plugins.FetchResult{result}, 5)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)

	folders := d.folders.forBook("Test Book", "term", "p1")
	assert.DirExists(t, folders.download)
	assert.NoDirExists(t, folders.temp, "temp dir should be renamed away on promotion")

	data, err := os.ReadFile(filepath.Join(folders.download, "Chapter 1", "001.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestDownloadBookMetaOnlySkipsPages(t *testing.T) {
	root := t.TempDir()
	client := &stubHTTPClient{}

	d := New(client, &stubPluginDownloader{}, Folders{
		DownloadRoot: filepath.Join(root, "download"),
		TempRoot:     filepath.Join(root, "temp"),
		MetadataRoot: filepath.Join(root, "metadata"),
	}, Snapshot{MetaOnly: true, PageMiniBatchSize: 5})

	result := plugins.FetchResult{QueryTerm: "term", Book: newTestBook(), PluginName: "p1"}

	outcomes, err := d.BatchDownload(context.Background(), []plugins.FetchResult{result}, 5)
	require.NoError(t, err)
	assert.NoError(t, outcomes[0].Err)
	assert.Empty(t, client.calls, "meta_only must never fetch pages")

	folders := d.folders.forBook("Test Book", "term", "p1")
	assert.FileExists(t, filepath.Join(folders.metadata, "src-1.json"))
	assert.NoDirExists(t, folders.download)
}

func TestDownloadBookSkipsAlreadyDownloadedPages(t *testing.T) {
	root := t.TempDir()
	client := &stubHTTPClient{bodies: map[string][]byte{"http://x/2.jpg": []byte("two")}}

	d := New(client, &stubPluginDownloader{}, Folders{
		DownloadRoot: filepath.Join(root, "download"),
		TempRoot:     filepath.Join(root, "temp"),
		MetadataRoot: filepath.Join(root, "metadata"),
	}, Snapshot{PageMiniBatchSize: 5})

	folders := d.folders.forBook("Test Book", "term", "p1")
	require.NoError(t, os.MkdirAll(filepath.Join(folders.download, "Chapter 1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folders.download, "Chapter 1", "001.jpg"), []byte("cached"), 0o644))

	result := plugins.FetchResult{QueryTerm: "term", Book: newTestBook(), PluginName: "p1"}

	_, err := d.BatchDownload(context.Background(), []plugins.FetchResult{result}, 5)
	require.NoError(t, err)

	assert.NotContains(t, client.calls, "http://x/1.jpg", "already-downloaded page must not be re-fetched")
	assert.Contains(t, client.calls, "http://x/2.jpg")
}

func TestDownloadBookCustomDownloaderDispatch(t *testing.T) {
	root := t.TempDir()
	client := &stubHTTPClient{}
	pd := &stubPluginDownloader{handled: true}

	d := New(client, pd, Folders{
		DownloadRoot: filepath.Join(root, "download"),
		TempRoot:     filepath.Join(root, "temp"),
		MetadataRoot: filepath.Join(root, "metadata"),
	}, Snapshot{PageMiniBatchSize: 5, CustomDownloader: true})

	result := plugins.FetchResult{QueryTerm: "term", Book: newTestBook(), PluginName: "p1"}

	outcomes, err := d.BatchDownload(context.Background(), []plugins.FetchResult{result}, 5)
	require.NoError(t, err)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, 2, pd.calls)
	assert.Empty(t, client.calls, "custom downloader path must not fall back to the direct resolver")
}

func TestDownloadBookAggregatesPageFailures(t *testing.T) {
	root := t.TempDir()
	client := &stubHTTPClient{err: assertErr("network down")}

	d := New(client, &stubPluginDownloader{}, Folders{
		DownloadRoot: filepath.Join(root, "download"),
		TempRoot:     filepath.Join(root, "temp"),
		MetadataRoot: filepath.Join(root, "metadata"),
	}, Snapshot{PageMiniBatchSize: 5})

	result := plugins.FetchResult{QueryTerm: "term", Book: newTestBook(), PluginName: "p1"}

	outcomes, err := d.BatchDownload(context.Background(), []plugins.FetchResult{result}, 5)
	require.NoError(t, err)
	require.Error(t, outcomes[0].Err)

	folders := d.folders.forBook("Test Book", "term", "p1")
	assert.NoDirExists(t, folders.download, "a chapter failure must not promote")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
