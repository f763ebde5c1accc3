// Package keyvalue flattens a go-simpler.org/env tagged struct into sorted
// key/value pairs and prints them as a shell script that sets the variables.
package keyvalue

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
)

// KV is a key/value pair.
type KV struct{ Key, Value string }

// KVSlice is a collection of key/value pairs.
type KVSlice []KV

func (kv KVSlice) Len() int           { return len(kv) }
func (kv KVSlice) Less(i, j int) bool { return kv[i].Key < kv[j].Key }
func (kv KVSlice) Swap(i, j int)      { kv[i], kv[j] = kv[j], kv[i] }

// EnvKV lists the `env` tagged fields of a struct value. A pointer must be
// dereferenced first. Fields without a tag and unexported fields are skipped.
func EnvKV(cfg any) (m KVSlice) {
	t, v := reflect.TypeOf(cfg), reflect.ValueOf(cfg)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		k := f.Tag.Get("env")
		if k == "" || !f.IsExported() {
			continue
		}
		var val string
		switch x := v.Field(i).Interface().(type) {
		case string:
			val = x
		case []string:
			val = strings.Join(x, ",")
		default:
			val = fmt.Sprint(x)
		}
		m = append(m, KV{k, val})
	}
	return
}

// PrintEnv renders the key/values of a config struct to w.
func PrintEnv(cfg any, w io.Writer) {
	_, _ = fmt.Fprintln(w, "#!/usr/bin/env bash")
	kvs := EnvKV(cfg)
	sort.Sort(kvs)
	for _, v := range kvs {
		_, _ = fmt.Fprintf(w, "export %s=%s\n", v.Key, v.Value)
	}
}
