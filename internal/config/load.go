// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/wgcauth/internal/xdg"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "WGCAUTH_"

// realmFields are the keys accepted under realms.<CODE>.
var realmFields = []string{"identity_url", "session_url", "client_id"}

// Options controls where configuration is read from.
type Options struct {
	// File is an explicit config file; it must exist. When empty the
	// XDG config file is read if present.
	File string
	// Flags and FlagKeys bind changed command flags to config keys.
	Flags    *pflag.FlagSet
	FlagKeys map[string]string
	// EnvPrefix defaults to DefaultEnvPrefix.
	EnvPrefix string
}

// Load builds the configuration. Sources are applied in order: defaults,
// YAML file, environment, flags. The result is validated.
func Load(opts Options) (*Config, error) {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = DefaultEnvPrefix
	}
	k := koanf.New(".")

	path, err := configPath(opts.File)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.ProviderWithValue(opts.EnvPrefix, ".", envTransformer(opts.EnvPrefix)), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "unmarshal").Wrap(err)
	}

	if cfg.Callback.PagesDir == "" {
		if dir, err := xdg.PagesDir(); err == nil && isDir(dir) {
			cfg.Callback.PagesDir = dir
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configPath resolves the file to read, or "" for none.
func configPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", oops.Code("CONFIG_LOAD_FAILED").With("path", explicit).Wrap(err)
		}
		return explicit, nil
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		return "", nil //nolint:nilerr // no home directory means no default file
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return path, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	if err := ValidateSchema(data); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// envTransformer maps WGCAUTH_SECTION_KEY to section.key, using the known
// key set so keys containing underscores survive. Unknown variables are
// dropped.
func envTransformer(prefix string) func(string, string) (string, any) {
	keys := make(map[string]string)
	for _, key := range Keys() {
		keys[strings.ReplaceAll(key, ".", "_")] = key
	}

	return func(name, value string) (string, any) {
		flat := strings.ToLower(strings.TrimPrefix(name, prefix))

		if rest, ok := strings.CutPrefix(flat, "realms_"); ok {
			code, field, ok := strings.Cut(rest, "_")
			if !ok {
				return "", nil
			}
			for _, f := range realmFields {
				if field == f {
					return "realms." + strings.ToUpper(code) + "." + field, value
				}
			}
			return "", nil
		}

		key, ok := keys[flat]
		if !ok {
			return "", nil
		}
		if key == "identity.poll_hosts" {
			return key, splitList(value)
		}
		return key, value
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Keys returns every dotted config key except the realms map.
func Keys() []string {
	return structKeys(reflect.TypeOf(Config{}), "")
}

func structKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("koanf")
		if tag == "" {
			continue
		}
		key := prefix + tag
		switch f.Type.Kind() {
		case reflect.Struct:
			keys = append(keys, structKeys(f.Type, key+".")...)
		case reflect.Map:
			continue
		default:
			keys = append(keys, key)
		}
	}
	return keys
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
