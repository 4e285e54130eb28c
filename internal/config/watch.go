package config

import (
	"context"
	"fmt"

	"github.com/knadh/koanf/providers/file"
)

// Watch reloads the configuration whenever the YAML file at path changes and
// hands the result to onChange. Reload errors go to onError (may be nil).
// Watching stops when ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config), onError func(error)) error {
	if path == "" {
		return fmt.Errorf("%w: watch requires a config file", ErrInvalidConfig)
	}
	fp := file.Provider(path)
	err := fp.Watch(func(_ interface{}, werr error) {
		if werr != nil {
			if onError != nil {
				onError(werr)
			}
			return
		}
		cfg, lerr := LoadFile(ctx, path)
		if lerr != nil {
			if onError != nil {
				onError(lerr)
			}
			return
		}
		onChange(cfg)
	})
	if err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrLoadConfig, path, err)
	}
	go func() {
		<-ctx.Done()
		_ = fp.Unwatch()
	}()
	return nil
}
