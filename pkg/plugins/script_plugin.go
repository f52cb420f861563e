package plugins

import (
	"context"
	"encoding/json"

	"github.com/dop251/goja"
	"github.com/pkg/errors"

	"github.com/mxscrape/mx-scraper/pkg/mxmodel"
)

// ScriptPlugin is a dynamically discovered plugin backed by a goja VM
// running manifest.json + main.js from its own directory under
// plugins.location. Grounded on the teacher's goja-hosted plugin runtime,
// and on original_source's dynamic plugin discovery (PythonPlugin
// directories found by scanning plugins.location for a recognized
// entrypoint file — here, manifest.json instead of __init__.py).
type ScriptPlugin struct {
	rt       *Runtime
	settings map[string]string
}

// NewScriptPlugin loads a script plugin from dir and wires its host APIs,
// using settings as the static config map exposed via mx.config.get.
func NewScriptPlugin(dir string, settings map[string]string) (*ScriptPlugin, error) {
	rt, err := LoadRuntime(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "loading script plugin at %s", dir)
	}
	if err := injectHostAPIs(rt, settings); err != nil {
		return nil, errors.Wrapf(err, "injecting host APIs for script plugin at %s", dir)
	}
	return &ScriptPlugin{rt: rt, settings: settings}, nil
}

func (p *ScriptPlugin) Name() string { return p.rt.Name() }

func (p *ScriptPlugin) Init(ctx context.Context) error    { return nil }
func (p *ScriptPlugin) Destroy(ctx context.Context) error { return nil }

func (p *ScriptPlugin) GetBook(ctx context.Context, term string) (*mxmodel.Book, error) {
	result, err := p.rt.call(p.rt.getBook, term)
	if err != nil {
		return nil, err
	}

	var book mxmodel.Book
	if err := decodeJSValue(p.rt, result, &book); err != nil {
		return nil, errors.Wrap(err, "decoding getBook result")
	}
	return &book, nil
}

func (p *ScriptPlugin) IsSupported(ctx context.Context, term string) (bool, error) {
	result, err := p.rt.call(p.rt.isSupported, term)
	if err != nil {
		return false, err
	}
	return result.ToBoolean(), nil
}

func (p *ScriptPlugin) Search(ctx context.Context, term string, opt SearchOption) ([]mxmodel.Book, error) {
	if p.rt.search == nil {
		return nil, ErrSearchUnimplemented
	}
	result, err := p.rt.call(p.rt.search, term, opt.Limit)
	if err != nil {
		return nil, err
	}

	var books []mxmodel.Book
	if err := decodeJSValue(p.rt, result, &books); err != nil {
		return nil, errors.Wrap(err, "decoding search result")
	}
	return books, nil
}

func (p *ScriptPlugin) DownloadURL(ctx context.Context, dest string, url string) (bool, error) {
	if p.rt.downloadURL == nil {
		return false, nil
	}
	if _, err := p.rt.call(p.rt.downloadURL, dest, url); err != nil {
		return true, err
	}
	return true, nil
}

// decodeJSValue round-trips a goja.Value through JSON into target, since
// a plugin hook's return shape (a plain JS object tree) maps cleanly
// onto Go structs via the same encoding/json tags mxmodel already
// carries.
func decodeJSValue(rt *Runtime, value goja.Value, target interface{}) error {
	exported := value.Export()
	data, err := json.Marshal(exported)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
