package storagefake

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/jrsteele09/site-attendance/storage"
)

var _ storage.Store = (*FakeStore)(nil)

// FakeStore keeps encoded values in memory. Values round-trip through JSON so callers
// observe the same copy semantics as a durable store.
type FakeStore struct {
	data map[string]map[string][]byte
	lock sync.RWMutex

	// FailWrites makes Set return WriteErr, to exercise persistence failures
	FailWrites bool
	WriteErr   error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		data: make(map[string]map[string][]byte),
	}
}

func (fs *FakeStore) Get(namespace, key string, v any) error {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	raw, ok := fs.data[namespace][key]
	if !ok {
		return storage.ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (fs *FakeStore) Set(namespace, key string, v any) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.FailWrites {
		if fs.WriteErr != nil {
			return fs.WriteErr
		}
		return errors.New("write failed")
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, ok := fs.data[namespace]; !ok {
		fs.data[namespace] = make(map[string][]byte)
	}
	fs.data[namespace][key] = raw
	return nil
}

func (fs *FakeStore) Delete(namespace, key string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	delete(fs.data[namespace], key)
	return nil
}

func (fs *FakeStore) Clear(namespace string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	delete(fs.data, namespace)
	return nil
}

// Keys lists the keys of a namespace in sorted order.
func (fs *FakeStore) Keys(namespace string) []string {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	keys := make([]string, 0, len(fs.data[namespace]))
	for k := range fs.data[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Raw returns the encoded bytes stored under namespace/key.
func (fs *FakeStore) Raw(namespace, key string) ([]byte, bool) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	raw, ok := fs.data[namespace][key]
	return raw, ok
}
