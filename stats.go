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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hardcore-os/sessionkv/log"
	"github.com/hardcore-os/sessionkv/utils"
)

type Stats struct {
	closer   *utils.Closer
	interval time.Duration

	Gets            atomic.Int64
	Puts            atomic.Int64
	Deletes         atomic.Int64
	Writes          atomic.Int64 // batches
	Iterators       atomic.Int64
	Snapshots       atomic.Int64 // taken, not live
	Compactions     atomic.Int64
	ContextsCreated atomic.Int64
}

func newStats(opt *Options) *Stats {
	return &Stats{
		closer:   utils.NewCloser(),
		interval: opt.StatsInterval,
	}
}

// StartStats logs the counters every interval until close.
func (s *Stats) StartStats() {
	defer s.closer.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closer.CloseSignal:
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

func (s *Stats) logStats() {
	log.DB.Debug().
		Int64("gets", s.Gets.Load()).
		Int64("puts", s.Puts.Load()).
		Int64("deletes", s.Deletes.Load()).
		Int64("writes", s.Writes.Load()).
		Int64("iterators", s.Iterators.Load()).
		Int64("snapshots", s.Snapshots.Load()).
		Int64("compactions", s.Compactions.Load()).
		Int64("contexts_created", s.ContextsCreated.Load()).
		Msg("stats")
}

func (s *Stats) close() error {
	s.closer.Close()
	return nil
}

func (s *Stats) String() string {
	return fmt.Sprintf("gets=%d puts=%d deletes=%d writes=%d iterators=%d snapshots=%d compactions=%d contexts_created=%d",
		s.Gets.Load(), s.Puts.Load(), s.Deletes.Load(), s.Writes.Load(),
		s.Iterators.Load(), s.Snapshots.Load(), s.Compactions.Load(), s.ContextsCreated.Load())
}
