// Package config is the environment configuration of a datom store.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/pkg/profile"
	"go-simpler.org/env"

	"datom.lol/appdata"
	"datom.lol/chk"
	"datom.lol/config/keyvalue"
	envfile "datom.lol/env"
	"datom.lol/errorf"
	"datom.lol/lol"
)

// Version of the datom tools.
var Version = "v0.1.0"

// C is the configuration of a store. Everything about the data itself lives in
// the store; this only says where it is and how the backend is tuned.
type C struct {
	AppName          string `env:"DATOM_APP_NAME" default:"datom"`
	DataDir          string `env:"DATOM_DATA_DIR" usage:"storage location (default is the user cache dir)"`
	EnvFile          string `env:"DATOM_ENV_FILE" usage:"file of KEY=value lines read before the environment"`
	Backend          string `env:"DATOM_BACKEND" default:"badger" usage:"badger or memory"`
	LogLevel         string `env:"DATOM_LOG_LEVEL" default:"info" usage:"off fatal error warn info debug trace"`
	DBLog            string `env:"DATOM_DB_LOG_LEVEL" default:"error" usage:"log level of badger"`
	NodeSize         int    `env:"DATOM_NODE_SIZE" default:"512" usage:"target datoms per packed node"`
	NodeFanout       int    `env:"DATOM_NODE_FANOUT" default:"64" usage:"children per index node"`
	FlushThreshold   int    `env:"DATOM_FLUSH_THRESHOLD" default:"16384" usage:"unflushed datoms that trigger a flush"`
	NodeCache        int    `env:"DATOM_NODE_CACHE" default:"4096" usage:"resolved nodes kept in memory"`
	BlockCache       int64  `env:"DATOM_BLOCK_CACHE" default:"67108864" usage:"badger block cache bytes"`
	Compression      string `env:"DATOM_COMPRESSION" default:"zstd" usage:"none or zstd for packed nodes"`
	SubscriberBuffer int    `env:"DATOM_SUBSCRIBER_BUFFER" default:"16" usage:"default snapshots buffered per subscriber"`
	Pprof            bool   `env:"DATOM_PPROF" default:"false" usage:"write a cpu profile into the data dir"`
	MemLimit         int64  `env:"DATOM_MEM_LIMIT" default:"0" usage:"soft memory limit in bytes, 0 leaves it alone"`
}

// New loads the configuration from the environment. A file of variables is
// read as well, DATOM_ENV_FILE or else .env in the data dir, with the
// environment taking precedence.
func New() (c *C, err error) {
	c = &C{}
	if err = env.Load(c, &env.Options{SliceSep: ","}); chk.E(err) {
		return
	}
	if c.DataDir == "" {
		c.DataDir = appdata.Dir(c.AppName, false)
	}
	path := c.EnvFile
	if path == "" {
		path = filepath.Join(c.DataDir, ".env")
		if _, err = os.Stat(path); err != nil {
			path, err = "", nil
		}
	}
	if path != "" {
		var e envfile.Env
		if e, err = envfile.GetEnv(path); chk.E(err) {
			return
		}
		if err = env.Load(c, &env.Options{SliceSep: ",", Source: e}); chk.E(err) {
			return
		}
		if c.DataDir == "" {
			c.DataDir = appdata.Dir(c.AppName, false)
		}
	}
	if err = c.Validate(); err != nil {
		return
	}
	lol.SetLogLevel(c.LogLevel)
	if c.MemLimit > 0 {
		debug.SetMemoryLimit(c.MemLimit)
	}
	return
}

// Validate checks the settings that have a fixed set of choices or a lower
// bound.
func (c *C) Validate() (err error) {
	switch {
	case c.Backend != "badger" && c.Backend != "memory":
		err = errorf.E("DATOM_BACKEND is %q, not badger or memory", c.Backend)
	case c.Compression != "none" && c.Compression != "zstd":
		err = errorf.E("DATOM_COMPRESSION is %q, not none or zstd", c.Compression)
	case c.NodeSize < 2:
		err = errorf.E("DATOM_NODE_SIZE must be at least 2, got %d", c.NodeSize)
	case c.NodeFanout < 2:
		err = errorf.E("DATOM_NODE_FANOUT must be at least 2, got %d", c.NodeFanout)
	case c.SubscriberBuffer < 1:
		err = errorf.E("DATOM_SUBSCRIBER_BUFFER must be at least 1, got %d",
			c.SubscriberBuffer)
	}
	return
}

// DBLogLevel is the lol level number badger logs at.
func (c *C) DBLogLevel() int { return lol.GetLogLevel(c.DBLog) }

// Profile starts a cpu profile in the data dir if one is configured. The
// returned function stops it.
func (c *C) Profile() (stop func()) {
	if !c.Pprof {
		return func() {}
	}
	return profile.Start(profile.CPUProfile, profile.ProfilePath(c.DataDir),
		profile.NoShutdownHook).Stop
}

// Usage prints the variables that configure the store.
func (c *C) Usage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "\nenvironment variables that configure %s\n\n", c.AppName)
	env.Usage(c, w, nil)
}

// PrintEnv writes the configuration as a shell script that can be edited and
// sourced.
func (c *C) PrintEnv(w io.Writer) { keyvalue.PrintEnv(*c, w) }
