package plugins

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/dop251/goja"
	"github.com/pkg/errors"
)

// Runtime wraps a goja VM for a single script plugin. It loads
// manifest.json, executes main.js (which defines a `plugin` global via
// IIFE), and extracts the getBook/isSupported/search/downloadUrl hook
// references. Adapted from the teacher's Runtime — the hook set is
// scraping-specific instead of ebook-ingestion-specific, everything else
// about the load sequence is unchanged.
type Runtime struct {
	vm       *goja.Runtime
	mu       sync.RWMutex
	manifest *Manifest
	name     string

	getBook      goja.Value
	isSupported  goja.Value
	search       goja.Value
	downloadURL  goja.Value
}

// LoadRuntime creates a new Runtime by reading manifest.json and
// executing main.js from the given plugin directory.
func LoadRuntime(dir string) (*Runtime, error) {
	manifestPath := filepath.Join(dir, "manifest.json")
	manifestData, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read manifest.json")
	}

	manifest, err := ParseManifest(manifestData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest")
	}

	mainJSPath := filepath.Join(dir, "main.js")
	mainJS, err := os.ReadFile(mainJSPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read main.js")
	}

	vm := goja.New()
	if _, err := vm.RunString(string(mainJS)); err != nil {
		return nil, errors.Wrap(err, "failed to execute main.js")
	}

	pluginVal := vm.Get("plugin")
	if pluginVal == nil || goja.IsUndefined(pluginVal) || goja.IsNull(pluginVal) {
		return nil, errors.New("main.js did not define a 'plugin' global")
	}
	pluginObj := pluginVal.ToObject(vm)
	if pluginObj == nil {
		return nil, errors.New("'plugin' global is not an object")
	}

	rt := &Runtime{
		vm:       vm,
		manifest: manifest,
		name:     manifest.ID,
	}

	rt.getBook = extractHook(pluginObj, "getBook")
	rt.isSupported = extractHook(pluginObj, "isSupported")
	rt.search = extractHook(pluginObj, "search")
	rt.downloadURL = extractHook(pluginObj, "downloadUrl")

	if rt.getBook == nil {
		return nil, errors.New("plugin does not export a 'getBook' function")
	}
	if rt.isSupported == nil {
		return nil, errors.New("plugin does not export an 'isSupported' function")
	}

	return rt, nil
}

// extractHook reads a property from the plugin object and returns the
// value if it is defined and non-null, otherwise nil. Whether the value
// is callable is checked when the hook is invoked.
func extractHook(obj *goja.Object, name string) goja.Value {
	val := obj.Get(name)
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val
}

func (rt *Runtime) Manifest() *Manifest { return rt.manifest }
func (rt *Runtime) Name() string        { return rt.name }

func (rt *Runtime) call(fn goja.Value, args ...interface{}) (goja.Value, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, errors.New("plugin hook is not callable")
	}

	vmArgs := make([]goja.Value, len(args))
	for i, a := range args {
		vmArgs[i] = rt.vm.ToValue(a)
	}

	result, err := callable(goja.Undefined(), vmArgs...)
	if err != nil {
		return nil, errors.Wrap(err, "plugin hook invocation failed")
	}
	return result, nil
}
