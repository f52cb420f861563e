package plugins

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/robinjoseph08/golib/logger"
)

// injectHostAPIs sets up the mx.* namespaces in a plugin's goja runtime:
// log, config (a static key/value settings map resolved from this
// plugin's entry in the top-level config), http, and shell. Adapted from
// the teacher's InjectHostAPIs, which wired a database-backed
// ConfigGetter and several ebook-specific namespaces (fs, archive, xml,
// ffmpeg) that have no home in this domain.
func injectHostAPIs(rt *Runtime, settings map[string]string) error {
	vm := rt.vm

	mxObj := vm.NewObject()
	if err := vm.Set("mx", mxObj); err != nil {
		return fmt.Errorf("failed to set mx global: %w", err)
	}

	if err := injectLogNamespace(vm, mxObj, rt.name); err != nil {
		return err
	}
	if err := injectConfigNamespace(vm, mxObj, settings); err != nil {
		return err
	}
	if err := injectHTTPNamespace(vm, mxObj, rt); err != nil {
		return err
	}
	if err := injectShellNamespace(vm, mxObj, rt); err != nil {
		return err
	}

	return nil
}

// injectLogNamespace sets up mx.log with debug/info/warn/error methods.
func injectLogNamespace(vm *goja.Runtime, mxObj *goja.Object, pluginTag string) error {
	log := logger.New()
	logObj := vm.NewObject()
	if err := mxObj.Set("log", logObj); err != nil {
		return fmt.Errorf("failed to set mx.log: %w", err)
	}

	logObj.Set("debug", func(call goja.FunctionCall) goja.Value { //nolint:errcheck
		log.Debug(call.Argument(0).String(), logger.Data{"plugin": pluginTag})
		return goja.Undefined()
	})
	logObj.Set("info", func(call goja.FunctionCall) goja.Value { //nolint:errcheck
		log.Info(call.Argument(0).String(), logger.Data{"plugin": pluginTag})
		return goja.Undefined()
	})
	logObj.Set("warn", func(call goja.FunctionCall) goja.Value { //nolint:errcheck
		log.Warn(call.Argument(0).String(), logger.Data{"plugin": pluginTag})
		return goja.Undefined()
	})
	logObj.Set("error", func(call goja.FunctionCall) goja.Value { //nolint:errcheck
		log.Error(call.Argument(0).String(), logger.Data{"plugin": pluginTag})
		return goja.Undefined()
	})

	return nil
}

// injectConfigNamespace sets up mx.config.get/getAll over a static
// key/value map resolved once at load time, replacing the teacher's
// live database round trip — script plugin settings here come from the
// process config file, not a hot-editable admin UI.
func injectConfigNamespace(vm *goja.Runtime, mxObj *goja.Object, settings map[string]string) error {
	configObj := vm.NewObject()
	if err := mxObj.Set("config", configObj); err != nil {
		return fmt.Errorf("failed to set mx.config: %w", err)
	}

	configObj.Set("get", func(call goja.FunctionCall) goja.Value { //nolint:errcheck
		key := call.Argument(0).String()
		val, ok := settings[key]
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(val)
	})

	configObj.Set("getAll", func(_ goja.FunctionCall) goja.Value { //nolint:errcheck
		result := vm.NewObject()
		for k, v := range settings {
			result.Set(k, v) //nolint:errcheck
		}
		return result
	})

	return nil
}
