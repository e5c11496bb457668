/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package opts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Graph-Coloring ")
	require.NoError(t, err)
	require.Equal(t, GraphColoring, s)

	_, err = ParseStrategy("chaitin")
	var se *StrategyError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "chaitin", se.Name)
}

func TestOptions_Validate(t *testing.T) {
	o := GetDefaultOptions()
	require.NoError(t, o.Validate())
	require.Equal(t, -1, o.ResolverRegister)

	o.MaxStackSlots = 0
	require.Error(t, o.Validate())

	o = GetDefaultOptions()
	o.ResolverRegister = -2
	require.Error(t, o.Validate())

	o = GetDefaultOptions()
	o.Strategy = "unknown"
	require.Error(t, o.Validate())
}

func TestLoadFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "lsra.yaml")
	cfg := "strategy: graph-coloring\nfallback: false\nverify: true\nmax_stack_slots: 16\n"
	require.NoError(t, os.WriteFile(fn, []byte(cfg), 0644))

	o, err := LoadFile(fn)
	require.NoError(t, err)
	require.Equal(t, GraphColoring, o.Strategy)
	require.False(t, o.Fallback)
	require.True(t, o.Verify)
	require.Equal(t, 16, o.MaxStackSlots)
	require.Equal(t, Remat, o.Remat)
	require.Equal(t, -1, o.ResolverRegister)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	/* unknown strategy */
	fn := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(fn, []byte("strategy: chaitin\n"), 0644))
	_, err = LoadFile(fn)
	require.Error(t, err)

	/* invalid budget */
	require.NoError(t, os.WriteFile(fn, []byte("max_stack_slots: -3\n"), 0644))
	_, err = LoadFile(fn)
	require.Error(t, err)
}
