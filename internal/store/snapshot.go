package store

import (
	"sort"
	"strings"

	"github.com/systmms/kmsenv/internal/envfile"
)

// Snapshot is an ordered view of environment variables. Decrypt emits its
// output in this order.
type Snapshot []envfile.Pair

// SnapshotFromMap orders m by key.
func SnapshotFromMap(m map[string]string) Snapshot {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snap := make(Snapshot, 0, len(keys))
	for _, k := range keys {
		snap = append(snap, envfile.Pair{Key: k, Value: m[k]})
	}
	return snap
}

// SnapshotFromEnviron converts os.Environ() output, keeping its order.
// Entries without '=' are skipped.
func SnapshotFromEnviron(environ []string) Snapshot {
	snap := make(Snapshot, 0, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		snap = append(snap, envfile.Pair{Key: k, Value: v})
	}
	return snap
}

// Lookup returns the value of the last entry named key.
func (s Snapshot) Lookup(key string) (string, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Key == key {
			return s[i].Value, true
		}
	}
	return "", false
}
