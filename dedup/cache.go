package dedup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudlint/harvest/core"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
)

const embedKeyPrefix = "embed:"

var vectorSer = ord.NewSliceSer[float32](raw.Float32)

// EmbedCache persists corpus embeddings in BadgerDB across runs, keyed by the
// fingerprint of the embedded text. Re-running the pipeline only embeds
// entries added since the previous run.
type EmbedCache struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenEmbedCache opens the cache at the given directory, creating it if
// needed. An empty path opens an in-memory cache.
func OpenEmbedCache(dirPath string) (*EmbedCache, error) {
	var opts badger.Options
	if dirPath == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dirPath, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(dirPath)
	}

	opts.Logger = &badgerLoggerAdapter{logger: slog.Default()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &EmbedCache{
		db:     db,
		logger: slog.Default().With("component", "embed-cache"),
	}, nil
}

// Close closes the underlying database.
func (c *EmbedCache) Close() error {
	return c.db.Close()
}

func embedKey(text string) []byte {
	return []byte(embedKeyPrefix + core.Fingerprint(text, ""))
}

// Get returns the cached embedding for the text, or ok=false on a miss.
func (c *EmbedCache) Get(text string) ([]float32, bool) {
	var vector []float32
	err := c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(embedKey(text))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, _, err := vectorSer.Unmarshal(val)
			vector = v
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("embed cache read failed", "err", err)
		return nil, false
	}
	return vector, true
}

// Put stores the embedding for the text.
func (c *EmbedCache) Put(text string, vector []float32) error {
	buf := make([]byte, vectorSer.Size(vector))
	vectorSer.Marshal(vector, buf)

	return c.db.Update(func(tx *badger.Txn) error {
		return tx.Set(embedKey(text), buf)
	})
}
