package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScriptPlugin(t *testing.T, dir string, manifest, mainJS string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.js"), []byte(mainJS), 0o644))
}

const basicManifest = `{
	"manifestVersion": 1,
	"id": "test-site",
	"name": "Test Site",
	"version": "1.0.0"
}`

func TestScriptPluginGetBookRoundTrips(t *testing.T) {
	dir := t.TempDir()
	writeScriptPlugin(t, dir, basicManifest, `
var plugin = {
	getBook: function(term) {
		return {
			title: "Resolved " + term,
			chapters: [{title: "Ch 1", pages: [{url: "http://x/1.jpg", number: 0}]}]
		};
	},
	isSupported: function(term) {
		return term.indexOf("test:") === 0;
	}
};
`)

	p, err := NewScriptPlugin(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "test-site", p.Name())

	book, err := p.GetBook(context.Background(), "test:123")
	require.NoError(t, err)
	assert.Equal(t, "Resolved test:123", book.Title)
	require.Len(t, book.Chapters, 1)
	require.Len(t, book.Chapters[0].Pages, 1)
	assert.Equal(t, "http://x/1.jpg", book.Chapters[0].Pages[0].URL)
}

func TestScriptPluginIsSupported(t *testing.T) {
	dir := t.TempDir()
	writeScriptPlugin(t, dir, basicManifest, `
var plugin = {
	getBook: function(term) { return {title: term}; },
	isSupported: function(term) { return term.indexOf("test:") === 0; }
};
`)

	p, err := NewScriptPlugin(dir, nil)
	require.NoError(t, err)

	ok, err := p.IsSupported(context.Background(), "test:1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.IsSupported(context.Background(), "other:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScriptPluginSearchUnimplementedByDefault(t *testing.T) {
	dir := t.TempDir()
	writeScriptPlugin(t, dir, basicManifest, `
var plugin = {
	getBook: function(term) { return {title: term}; },
	isSupported: function(term) { return true; }
};
`)

	p, err := NewScriptPlugin(dir, nil)
	require.NoError(t, err)

	_, err = p.Search(context.Background(), "term", SearchOption{})
	assert.ErrorIs(t, err, ErrSearchUnimplemented)
}

func TestScriptPluginConfigAccess(t *testing.T) {
	dir := t.TempDir()
	writeScriptPlugin(t, dir, basicManifest, `
var plugin = {
	getBook: function(term) {
		return {title: mx.config.get("greeting") + " " + term};
	},
	isSupported: function(term) { return true; }
};
`)

	p, err := NewScriptPlugin(dir, map[string]string{"greeting": "hi"})
	require.NoError(t, err)

	book, err := p.GetBook(context.Background(), "world")
	require.NoError(t, err)
	assert.Equal(t, "hi world", book.Title)
}

func TestLoadRuntimeMissingGetBookFails(t *testing.T) {
	dir := t.TempDir()
	writeScriptPlugin(t, dir, basicManifest, `
var plugin = {
	isSupported: function(term) { return true; }
};
`)

	_, err := LoadRuntime(dir)
	assert.Error(t, err)
}

func TestLoadRuntimeMissingPluginGlobalFails(t *testing.T) {
	dir := t.TempDir()
	writeScriptPlugin(t, dir, basicManifest, `var notPlugin = {};`)

	_, err := LoadRuntime(dir)
	assert.Error(t, err)
}
