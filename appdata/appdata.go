// Package appdata finds the conventional per user data directory of an
// application.
package appdata

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
)

type (
	bo = bool
	st = string
)

// Dir returns the data directory of appName on this operating system. roaming
// only matters on windows.
func Dir(appName st, roaming bo) st { return GetDataDir(runtime.GOOS, appName, roaming) }

// GetDataDir returns the data directory of appName as it would be on goos. An
// empty name, or one that cannot be placed, gives the current directory.
func GetDataDir(goos, appName st, roaming bo) st {
	if appName == "" || appName == "." {
		return "."
	}
	appName = strings.TrimPrefix(appName, ".")
	upper := st(unicode.ToUpper(rune(appName[0]))) + appName[1:]
	lower := st(unicode.ToLower(rune(appName[0]))) + appName[1:]
	var home st
	if usr, err := user.Current(); err == nil {
		home = usr.HomeDir
	}
	if home == "" {
		home = os.Getenv("HOME")
	}
	switch goos {
	case "windows":
		dir := os.Getenv("LOCALAPPDATA")
		if roaming || dir == "" {
			dir = os.Getenv("APPDATA")
		}
		if dir != "" {
			return filepath.Join(dir, upper)
		}
	case "darwin":
		if home != "" {
			return filepath.Join(home, "Library", "Application Support", upper)
		}
	case "plan9":
		if home != "" {
			return filepath.Join(home, lower)
		}
	default:
		if home != "" {
			return filepath.Join(home, ".config", lower)
		}
	}
	return "."
}
