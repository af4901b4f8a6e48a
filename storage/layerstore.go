package storage

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/DmitriyVTitov/size"
	"github.com/coocood/freecache"
	"github.com/dgraph-io/badger/v3"
	humanize "github.com/dustin/go-humanize"

	"github.com/lorenzocerrone/plant-seg/pipeline"
	"github.com/lorenzocerrone/plant-seg/pseg"
	"github.com/lorenzocerrone/plant-seg/volume"
)

// ErrLayerNotFound is returned by Get for a name with no stored layer.
var ErrLayerNotFound = errors.New("layer not found")

// StoreConfig configures the on-disk layer store.
type StoreConfig struct {
	Path        string `toml:"path"`
	Compression string `toml:"compression"`
}

// CacheConfig configures the in-memory read-through cache. MaxMB = 0
// disables caching.
type CacheConfig struct {
	MaxMB int `toml:"max_mb"`
}

// LayerStore persists named layers in badger with an optional freecache
// front. A layer Put under an existing name replaces it; the pipeline's
// name versioning makes such overwrites deliberate.
type LayerStore struct {
	db          *badger.DB
	cache       *freecache.Cache
	compression Compression
}

// layerRecord is the gob envelope for one stored layer.
type layerRecord struct {
	Kind   string
	Size   volume.Shape
	Values []float32
	Labels []uint64
}

func parseCompression(name string) (Compression, error) {
	switch name {
	case "", "snappy":
		return Snappy, nil
	case "none", "uncompressed":
		return Uncompressed, nil
	case "zstd":
		return Zstd, nil
	default:
		return Uncompressed, fmt.Errorf("unknown store compression %q", name)
	}
}

// OpenLayerStore opens (creating if needed) the badger-backed store.
func OpenLayerStore(sc StoreConfig, cc CacheConfig) (*LayerStore, error) {
	compression, err := parseCompression(sc.Compression)
	if err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(sc.Path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening layer store at %q: %w", sc.Path, err)
	}
	store := &LayerStore{db: db, compression: compression}
	if cc.MaxMB > 0 {
		store.cache = freecache.NewCache(cc.MaxMB * 1024 * 1024)
	}
	return store, nil
}

// Close releases the underlying badger database.
func (s *LayerStore) Close() error {
	return s.db.Close()
}

func encodeLayer(layer pipeline.Layer) (layerRecord, error) {
	if !layer.Valid() {
		return layerRecord{}, fmt.Errorf("layer must hold exactly one array")
	}
	if layer.Labels != nil {
		return layerRecord{Kind: "labels", Size: layer.Labels.Size, Labels: layer.Labels.Data}, nil
	}
	return layerRecord{Kind: "image", Size: layer.Volume.Size, Values: layer.Volume.Data}, nil
}

func decodeLayer(rec layerRecord) (pipeline.Layer, error) {
	switch rec.Kind {
	case "labels":
		return pipeline.Layer{Labels: &volume.LabelVolume{Size: rec.Size, Data: rec.Labels}}, nil
	case "image":
		return pipeline.Layer{Volume: &volume.Volume{Size: rec.Size, Data: rec.Values}}, nil
	default:
		return pipeline.Layer{}, fmt.Errorf("stored layer has unknown kind %q", rec.Kind)
	}
}

// Put stores a layer under the given name, replacing any previous value.
func (s *LayerStore) Put(name string, layer pipeline.Layer) error {
	rec, err := encodeLayer(layer)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encoding layer %q: %w", name, err)
	}
	serialized, err := SerializeData(buf.Bytes(), s.compression, CRC32)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(name), serialized)
	})
	if err != nil {
		return fmt.Errorf("storing layer %q: %w", name, err)
	}
	if s.cache != nil {
		s.cache.Set([]byte(name), serialized, 0)
	}
	pseg.Debugf("stored layer %q: %s in memory, %s on disk\n", name,
		humanize.IBytes(uint64(size.Of(rec))), humanize.IBytes(uint64(len(serialized))))
	return nil
}

// Get retrieves a stored layer by name.
func (s *LayerStore) Get(name string) (pipeline.Layer, error) {
	var serialized []byte
	if s.cache != nil {
		if cached, err := s.cache.Get([]byte(name)); err == nil {
			serialized = cached
		}
	}
	if serialized == nil {
		err := s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(name))
			if err != nil {
				return err
			}
			serialized, err = item.ValueCopy(nil)
			return err
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return pipeline.Layer{}, ErrLayerNotFound
		}
		if err != nil {
			return pipeline.Layer{}, fmt.Errorf("reading layer %q: %w", name, err)
		}
		if s.cache != nil {
			s.cache.Set([]byte(name), serialized, 0)
		}
	}

	data, err := DeserializeData(serialized)
	if err != nil {
		return pipeline.Layer{}, fmt.Errorf("deserializing layer %q: %w", name, err)
	}
	var rec layerRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return pipeline.Layer{}, fmt.Errorf("decoding layer %q: %w", name, err)
	}
	return decodeLayer(rec)
}

// Delete removes a stored layer. Deleting a missing name is not an error.
func (s *LayerStore) Delete(name string) error {
	if s.cache != nil {
		s.cache.Del([]byte(name))
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(name))
	})
}

// Names lists the stored layer names.
func (s *LayerStore) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return names, err
}
