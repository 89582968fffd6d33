package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// loadScript returns the hook source. Values ending in .js are read from disk.
func loadScript(script string) (string, string, error) {
	if strings.HasSuffix(strings.TrimSpace(script), ".js") {
		path := strings.TrimSpace(script)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", path, fmt.Errorf("read hook script: %w", err)
		}
		return string(data), path, nil
	}
	return script, "inline", nil
}

// runScript evaluates a JavaScript hook. The script sees the globals payload
// and event; its completion value, when an object, becomes the hook output.
// The global deny(reason) denies directly.
func runScript(ctx context.Context, script string, timeout time.Duration, event Event, payload map[string]any) Outcome {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	source, name, err := loadScript(script)
	if err != nil {
		return Failure(err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	var denied *string
	if err := vm.Set("payload", payload); err != nil {
		return Failure(err)
	}
	if err := vm.Set("event", string(event)); err != nil {
		return Failure(err)
	}
	if err := vm.Set("deny", func(reason string) {
		denied = &reason
	}); err != nil {
		return Failure(err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt(runCtx.Err())
		case <-done:
		}
	}()

	val, err := vm.RunString(source)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctx.Err() == nil {
				return Timeout(fmt.Errorf("%w: script %s after %s", ErrHookTimeout, name, timeout))
			}
			return Failure(ctx.Err())
		}
		var exception *goja.Exception
		if errors.As(err, &exception) {
			return Failure(fmt.Errorf("script %s: %s", name, exception.Value().String()))
		}
		return Failure(fmt.Errorf("script %s: %w", name, err))
	}

	if denied != nil {
		return Denied(*denied)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return Success(nil)
	}
	if m, ok := val.Export().(map[string]any); ok {
		return Success(m)
	}
	return Success(nil)
}
