package lstore

import (
	"bytes"
	"errors"
	"time"

	"github.com/ValentinKolb/htab/lib/hmap"
	"github.com/ValentinKolb/htab/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/valyala/bytebufferpool"
)

var Logger = logger.GetLogger("store")

// Options configures the retry behaviour of a local store
type Options struct {
	BusyRetries int           // Number of retries of an operation that failed with ErrBusy
	BusyBackoff time.Duration // Initial wait between retries, doubled after every retry
}

// DefaultOptions returns the default store options
func DefaultOptions() *Options {
	return &Options{
		BusyRetries: 5,
		BusyBackoff: 10 * time.Microsecond,
	}
}

type storeImpl struct {
	m         hmap.Map
	keySize   int
	valueSize int
	opts      Options
}

// NewLocalStore creates a new local store instance on top of the map created
// by factory. opts is optional.
func NewLocalStore(factory store.MapFactory, opts *Options) (store.IStore, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	m, err := factory()
	if err != nil {
		return nil, store.FromMapError(err)
	}
	if m.SupportsFeature(hmap.FeaturePerCPU) {
		m.Close()
		return nil, store.NewError(store.RetCUnsupportedOperation, "maps with per-cpu values are not supported")
	}
	return &storeImpl{
		m:         m,
		keySize:   m.KeySize(),
		valueSize: m.ValueSize(),
		opts:      *opts,
	}, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// withKey pads key to the key size of the map and calls fn with it.
// The padded key is only valid during fn.
func (s *storeImpl) withKey(key string, fn func(k []byte) error) error {
	if len(key) > s.keySize {
		return store.NewError(store.RetCInvalidOperation, "key is longer than the key size of the map")
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString(key)
	for buf.Len() < s.keySize {
		buf.WriteByte(0)
	}
	return fn(buf.B)
}

// padValue zero-pads value to the value size of the map
func (s *storeImpl) padValue(value []byte) ([]byte, error) {
	if len(value) > s.valueSize {
		return nil, store.NewError(store.RetCInvalidOperation, "value is longer than the value size of the map")
	}
	if len(value) == s.valueSize {
		return value, nil
	}
	padded := make([]byte, s.valueSize)
	copy(padded, value)
	return padded, nil
}

// retry runs op until it does not fail with ErrBusy or the retries are used up
//
// Thread-safety: This method is thread-safe as long as op is.
func (s *storeImpl) retry(op func() error) error {
	backoff := s.opts.BusyBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if !errors.Is(err, hmap.ErrBusy) {
			return err
		}
		if attempt >= s.opts.BusyRetries {
			Logger.Warningf("map stayed busy after %d retries", attempt)
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
}

// update writes value for key with the given mode
func (s *storeImpl) update(key string, value []byte, mode hmap.UpdateMode) error {
	v, err := s.padValue(value)
	if err != nil {
		return err
	}
	return s.withKey(key, func(k []byte) error {
		return store.FromMapError(s.retry(func() error {
			return s.m.Update(k, v, mode)
		}))
	})
}

// trimKey strips the zero padding of a key
func trimKey(k []byte) string {
	return string(bytes.TrimRight(k, "\x00"))
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	return s.update(key, value, hmap.Upsert)
}

func (s *storeImpl) SetIfUnset(key string, value []byte) error {
	err := s.update(key, value, hmap.CreateOnly)
	var storeErr *store.Error
	if errors.As(err, &storeErr) && storeErr.Code == store.RetCAlreadyExists {
		return nil
	}
	return err
}

func (s *storeImpl) Replace(key string, value []byte) error {
	return s.update(key, value, hmap.UpdateOnly)
}

func (s *storeImpl) Delete(key string) error {
	return s.withKey(key, func(k []byte) error {
		err := s.retry(func() error {
			return s.m.Delete(k)
		})
		if errors.Is(err, hmap.ErrNotFound) {
			return nil
		}
		return store.FromMapError(err)
	})
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	var value []byte
	var ok bool
	err := s.withKey(key, func(k []byte) error {
		value, ok = s.m.Lookup(k)
		return nil
	})
	return value, ok, err
}

func (s *storeImpl) Has(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

func (s *storeImpl) Keys(fn func(key string) bool) error {
	if !s.m.SupportsFeature(hmap.FeatureForEach) {
		return store.NewError(store.RetCUnsupportedOperation, "Keys operation is not supported")
	}
	s.m.ForEach(func(k, _ []byte) bool {
		return fn(trimKey(k))
	})
	return nil
}

func (s *storeImpl) Drain() (map[string][]byte, error) {
	if !s.m.SupportsFeature(hmap.FeatureBatch) {
		return nil, store.NewError(store.RetCUnsupportedOperation, "Drain operation is not supported")
	}

	entries := make(map[string][]byte)
	batchSize := 64
	cursor := uint32(0)
	for {
		batch, next, err := s.m.LookupAndDeleteBatch(cursor, batchSize)
		for _, e := range batch {
			entries[trimKey(e.Key)] = e.Value
		}
		switch {
		case errors.Is(err, hmap.ErrNotFound):
			return entries, nil
		case errors.Is(err, hmap.ErrNoSpace):
			// a single bucket holds more entries than the batch size
			batchSize *= 2
		case errors.Is(err, hmap.ErrBusy):
			time.Sleep(s.opts.BusyBackoff)
		case err != nil:
			return entries, store.FromMapError(err)
		}
		cursor = next
	}
}

func (s *storeImpl) GetMapInfo() (hmap.MapInfo, error) {
	return s.m.Info(), nil
}

func (s *storeImpl) Close() error {
	return store.FromMapError(s.m.Close())
}
