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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":  slog.LevelDebug,
		" INFO ": slog.LevelInfo,
		"warn":   slog.LevelWarn,
		"error":  slog.LevelError,
	} {
		got, err := slogLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := slogLevel("verbose")
	assert.ErrorContains(t, err, "expected one of debug, error, info, warn")
}

func TestSlogHandler(t *testing.T) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	for _, format := range []string{"json", "logfmt", "color"} {
		h, err := slogHandler(format, opts)
		require.NoError(t, err, format)
		assert.NotNil(t, h)
	}

	_, err := slogHandler("xml", opts)
	assert.ErrorContains(t, err, "expected one of color, json, logfmt")
}

func TestInitWithoutFormatFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, Init(fs))
	assert.False(t, structured.Load())
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	restore := SetLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	defer restore()

	InfoS("planned", "rule", "push_limit")
	DebugS("hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "planned", record["msg"])
	assert.Equal(t, "push_limit", record["rule"])
	assert.True(t, Enabled(slog.LevelWarn))
	assert.False(t, Enabled(slog.LevelDebug))
}

func TestLoggerAttributes(t *testing.T) {
	var buf bytes.Buffer
	restore := SetLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer restore()

	session := With("session", "s1")
	session.DebugS("rewrote the tree", "rule", "push_select")
	session.WarnS("hint ignored", "hint", "makedep")
	ErrorS("planning failed", "query", 2)

	dec := json.NewDecoder(&buf)
	tcases := []struct {
		level string
		msg   string
		key   string
		value any
	}{
		{level: "DEBUG", msg: "rewrote the tree", key: "rule", value: "push_select"},
		{level: "WARN", msg: "hint ignored", key: "hint", value: "makedep"},
		{level: "ERROR", msg: "planning failed", key: "query", value: float64(2)},
	}
	for _, tc := range tcases {
		var record map[string]any
		require.NoError(t, dec.Decode(&record))
		assert.Equal(t, tc.level, record["level"])
		assert.Equal(t, tc.msg, record["msg"])
		assert.Equal(t, tc.value, record[tc.key])
		if tc.level != "ERROR" {
			assert.Equal(t, "s1", record["session"])
		} else {
			assert.NotContains(t, record, "session")
		}
	}
	assert.False(t, dec.More())
}

func TestRestoreLogger(t *testing.T) {
	restore := SetLogger(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))
	assert.True(t, structured.Load())
	restore()
	assert.False(t, structured.Load())
	assert.True(t, Enabled(slog.LevelError))
	SetLogger(nil)()
}
