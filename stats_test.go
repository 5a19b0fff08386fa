// Copyright 2021 hardcore-os Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License")
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sessionkv

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hardcore-os/sessionkv/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsLogLine(t *testing.T) {
	root, dbLog, engineLog := log.Root, log.DB, log.Engine
	defer func() { log.Root, log.DB, log.Engine = root, dbLog, engineLog }()
	var buf bytes.Buffer
	log.Init(log.Options{LogLevel: zerolog.DebugLevel, Type: log.JSONLogger, Out: &buf})

	s := newStats(NewDefaultOptions())
	s.Puts.Add(3)
	s.Compactions.Add(2)
	s.logStats()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "stats", line["message"])
	assert.Equal(t, "db", line["component"])
	assert.EqualValues(t, 2, line["compactions"])
	assert.EqualValues(t, 3, line["puts"])
	for _, field := range []string{"gets", "deletes", "writes", "iterators", "snapshots", "contexts_created"} {
		assert.EqualValues(t, 0, line[field], field)
	}
}
