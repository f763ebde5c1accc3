package memkv

import (
	"datom.lol/context"
	"datom.lol/lol"
)

type (
	bo = bool
	by = []byte
	er = error
	no = int
	cx = context.T
)

var (
	log, chk, errorf = lol.Main.Log, lol.Main.Check, lol.Main.Errorf
)
