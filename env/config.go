// Package env reads KEY=value files as a source for go-simpler.org/env.
package env

import (
	"os"
	"strings"

	"datom.lol/chk"
)

// Env is a set of variables read from a file.
type Env map[string]string

// GetEnv reads a file of KEY=value lines in shell environment format. Blank
// lines, comments and an optional leading export are skipped.
func GetEnv(path string) (env Env, err error) {
	var s []byte
	env = make(Env)
	if s, err = os.ReadFile(path); chk.T(err) {
		return
	}
	for _, line := range strings.Split(string(s), "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		split := strings.SplitN(line, "=", 2)
		if len(split) != 2 {
			continue
		}
		env[strings.TrimSpace(split[0])] = strings.Trim(strings.TrimSpace(split[1]), `"'`)
	}
	return
}

// LookupEnv returns the value of key. The process environment wins over the
// file, so a file holds defaults that can still be overridden.
func (env Env) LookupEnv(key string) (value string, ok bool) {
	if value, ok = os.LookupEnv(key); ok {
		return
	}
	value, ok = env[key]
	return
}
