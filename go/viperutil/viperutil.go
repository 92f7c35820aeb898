/*
Copyright 2026 The Fedplan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package viperutil provides a utility layer to streamline and standardize
interacting with viper-backed configuration values across the codebase.

A value is declared once with Configure, bound to a flag with BindFlags, and
read with Get:

	var maxPasses = viperutil.Configure(
		"planner.max-fixpoint-passes",
		viperutil.Options[int]{
			FlagName: "planner-max-fixpoint-passes",
			Default:  32,
		},
	)

	func RegisterFlags(fs *pflag.FlagSet) {
		fs.Int("planner-max-fixpoint-passes", maxPasses.Default(), "...")
		viperutil.BindFlags(fs, maxPasses)
	}
*/
package viperutil

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fedplan/fedplan/go/viperutil/internal/registry"
	"github.com/fedplan/fedplan/go/viperutil/internal/value"
)

// Value represents the public API to access viper-backed config values.
type Value[T any] interface {
	value.Registerable

	// Get returns the current value.
	Get() T
	// Set sets the underlying value in the registry.
	Set(v T)
	// Default returns the default value configured for this Value.
	Default() T
}

// Options represents the various options used to control how Values are
// configured by viperutil.
type Options[T any] struct {
	// Aliases, if set, configures the Value to be accessible via additional
	// keys.
	Aliases []string
	// FlagName, if set, allows a value to be configured to also check the
	// named flag for its final config value.
	FlagName string
	// EnvVars, if set, configures the Value to also check the given
	// environment variables for its final config value.
	EnvVars []string
	// Default is the default value that will be set for the key.
	Default T
	// GetFunc is the function used to get this value out of a viper. If
	// omitted, the value type's default getter is used.
	GetFunc func(v *viper.Viper) func(key string) T
}

// Configure configures a viper-backed value associated with the given key to
// the static registry, and returns a Value to interact with that config
// value.
func Configure[T any](key string, opts Options[T]) (v Value[T]) {
	getfunc := opts.GetFunc
	if getfunc == nil {
		getfunc = value.GetFuncForType[T]()
	}

	base := &value.Base[T]{
		KeyName:    key,
		DefaultVal: opts.Default,
		GetFunc:    getfunc,
		Aliases:    opts.Aliases,
		FlagName:   opts.FlagName,
		EnvVars:    opts.EnvVars,
	}

	return value.NewStatic[T](base)
}

// BindFlags binds a set of Registerable values to the given flag set.
//
// This function will panic if any of the values defines a flag that does not
// exist in the flag set.
func BindFlags(fs *pflag.FlagSet, values ...value.Registerable) {
	value.BindFlags(fs, values...)
}

// LoadConfig reads the given config file into the registry. Flags that were
// set explicitly still take precedence over the file.
func LoadConfig(path string) error {
	if path == "" {
		return nil
	}
	registry.Static.SetConfigFile(path)
	return registry.Static.ReadInConfig()
}
