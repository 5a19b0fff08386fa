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
	"sort"
	"sync/atomic"
	"time"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/log"
	"github.com/pkg/errors"
)

const (
	// DefaultColumnFamilyName names the primary keyspace.
	DefaultColumnFamilyName = "default"
	// CatalogURI is the table holding the column family catalog.
	CatalogURI = engine.TablePrefix + "sessionkv.catalog"
)

// ColumnFamilyHandle names one keyspace. Each family is its own engine table.
type ColumnFamilyHandle struct {
	id      uint32
	name    string
	uri     string
	created time.Time
	dropped atomic.Bool
}

func (h *ColumnFamilyHandle) ID() uint32         { return h.id }
func (h *ColumnFamilyHandle) Name() string       { return h.name }
func (h *ColumnFamilyHandle) URI() string        { return h.uri }
func (h *ColumnFamilyHandle) Created() time.Time { return h.created }

func newDefaultColumnFamily() *ColumnFamilyHandle {
	return &ColumnFamilyHandle{name: DefaultColumnFamilyName, uri: engine.PrimaryURI}
}

func reservedColumnFamilyName(name string) bool {
	switch name {
	case DefaultColumnFamilyName, engine.TableName(engine.PrimaryURI), engine.TableName(CatalogURI):
		return true
	}
	return false
}

// loadColumnFamilies reads the catalog into memory. It runs once, at open.
func (db *DB) loadColumnFamilies(ctx *OperationContext) error {
	if err := ctx.Session().CreateTable(CatalogURI); err != nil {
		return errors.Wrap(engine.Translate(err), "create catalog")
	}
	c, err := ctx.Session().OpenCursor(CatalogURI)
	if err != nil {
		return errors.Wrap(engine.Translate(err), "open catalog")
	}
	defer c.Close()

	it := newIterator(c, false)
	defer it.Close()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		rec, err := decodeCatalogRecord(it.Value())
		if err != nil {
			return errors.Wrapf(ErrIO, "catalog entry %q: %v", it.Key(), err)
		}
		h := &ColumnFamilyHandle{
			id:      rec.id,
			name:    rec.name,
			uri:     engine.TableURI(rec.name),
			created: time.Unix(0, rec.created),
		}
		db.cfs[h.name] = h
		if h.id >= db.nextCFID {
			db.nextCFID = h.id + 1
		}
	}
	if err := it.Err(); err != nil {
		return errors.Wrap(err, "scan catalog")
	}
	log.DB.Debug().Int("column_families", len(db.cfs)).Msg("catalog loaded")
	return nil
}

// resolveColumnFamily maps nil to the default family and rejects handles
// that are unusable.
func (db *DB) resolveColumnFamily(h *ColumnFamilyHandle) (*ColumnFamilyHandle, error) {
	if h == nil || h == db.defaultCF {
		return db.defaultCF, nil
	}
	if !db.opt.ColumnFamilies {
		return nil, errors.WithMessage(ErrNotSupported, "column families disabled")
	}
	if h.dropped.Load() {
		return nil, errors.WithMessagef(ErrColumnFamilyNotFound, "%q was dropped", h.name)
	}
	return h, nil
}

// CreateColumnFamily creates a keyspace and records it in the catalog.
func (db *DB) CreateColumnFamily(name string) (*ColumnFamilyHandle, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if !db.opt.ColumnFamilies {
		return nil, errors.WithMessage(ErrNotSupported, "column families disabled")
	}
	if name == "" || reservedColumnFamilyName(name) {
		return nil, errors.WithMessagef(ErrInvalidState, "invalid column family name %q", name)
	}

	db.cfMu.Lock()
	defer db.cfMu.Unlock()
	if _, ok := db.cfs[name]; ok {
		return nil, errors.WithMessagef(ErrInvalidState, "column family %q already exists", name)
	}

	ctx, err := db.pool.Get()
	if err != nil {
		return nil, err
	}
	defer db.pool.Put(ctx)

	h := &ColumnFamilyHandle{
		id:      db.nextCFID,
		name:    name,
		uri:     engine.TableURI(name),
		created: time.Now(),
	}
	if err := ctx.Session().CreateTable(h.uri); err != nil {
		return nil, errors.Wrapf(engine.Translate(err), "create column family %q", name)
	}
	rec := catalogRecord{name: h.name, id: h.id, created: h.created.UnixNano()}
	if err := db.updateCatalog(ctx, []byte(name), rec.encode()); err != nil {
		_ = ctx.Session().DropTable(h.uri)
		return nil, err
	}
	db.cfs[name] = h
	db.nextCFID++
	log.DB.Info().Str("column_family", name).Uint32("id", h.id).Msg("column family created")
	return h, nil
}

// DropColumnFamily removes a keyspace and its data. The handle becomes
// unusable.
func (db *DB) DropColumnFamily(h *ColumnFamilyHandle) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if !db.opt.ColumnFamilies {
		return errors.WithMessage(ErrNotSupported, "column families disabled")
	}
	if h == nil || h == db.defaultCF {
		return errors.WithMessage(ErrInvalidState, "the default column family cannot be dropped")
	}

	db.cfMu.Lock()
	defer db.cfMu.Unlock()
	if cur, ok := db.cfs[h.name]; !ok || cur != h {
		return errors.WithMessagef(ErrColumnFamilyNotFound, "%q", h.name)
	}

	ctx, err := db.pool.Get()
	if err != nil {
		return err
	}
	defer db.pool.Put(ctx)

	h.dropped.Store(true)
	delete(db.cfs, h.name)
	if err := db.updateCatalog(ctx, []byte(h.name), nil); err != nil {
		return err
	}
	if err := ctx.Session().DropTable(h.uri); err != nil && !engine.IsNotFound(err) {
		return errors.Wrapf(engine.Translate(err), "drop column family %q", h.name)
	}
	log.DB.Info().Str("column_family", h.name).Uint32("id", h.id).Msg("column family dropped")
	return nil
}

// updateCatalog writes or, with a nil value, removes one catalog entry.
func (db *DB) updateCatalog(ctx *OperationContext, key, value []byte) error {
	c, err := ctx.Session().OpenCursor(CatalogURI)
	if err != nil {
		return errors.Wrap(engine.Translate(err), "open catalog")
	}
	defer c.Close()
	if value == nil {
		err = c.Remove(key)
	} else {
		err = c.Insert(key, value)
	}
	return errors.Wrap(engine.Translate(err), "update catalog")
}

// ColumnFamilies lists every family, default first, then by id.
func (db *DB) ColumnFamilies() []*ColumnFamilyHandle {
	db.cfMu.RLock()
	out := make([]*ColumnFamilyHandle, 0, len(db.cfs)+1)
	for _, h := range db.cfs {
		out = append(out, h)
	}
	db.cfMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return append([]*ColumnFamilyHandle{db.defaultCF}, out...)
}

// ColumnFamily looks up a family by name.
func (db *DB) ColumnFamily(name string) (*ColumnFamilyHandle, error) {
	if name == DefaultColumnFamilyName {
		return db.defaultCF, nil
	}
	db.cfMu.RLock()
	defer db.cfMu.RUnlock()
	h, ok := db.cfs[name]
	if !ok {
		return nil, errors.WithMessagef(ErrColumnFamilyNotFound, "%q", name)
	}
	return h, nil
}

// DefaultColumnFamily returns the handle of the primary keyspace.
func (db *DB) DefaultColumnFamily() *ColumnFamilyHandle {
	return db.defaultCF
}

func (db *DB) PutCF(h *ColumnFamilyHandle, key, value []byte, wo *WriteOptions) error {
	return db.put(h, key, value, false, wo)
}

func (db *DB) DeleteCF(h *ColumnFamilyHandle, key []byte, wo *WriteOptions) error {
	return db.put(h, key, nil, true, wo)
}

func (db *DB) GetCF(h *ColumnFamilyHandle, key []byte, ro *ReadOptions) ([]byte, error) {
	return db.get(h, key, ro)
}

func (db *DB) NewIteratorCF(h *ColumnFamilyHandle, ro *ReadOptions) (*Iterator, error) {
	return db.newIterator(h, ro)
}
