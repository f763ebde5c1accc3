// Command datomdump prints the datoms of one index of a store, optionally
// limited to an entity or read as of an earlier transaction, and can have the
// backend flush and compact.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/alexflint/go-arg"

	"datom.lol/config"
	"datom.lol/context"
	"datom.lol/datom"
	"datom.lol/db"
	"datom.lol/hex"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/interrupt"
	"datom.lol/store"
	"datom.lol/valuetag"
)

type args struct {
	Index   st     `arg:"-i" default:"txlog" help:"txlog, eavt, aevt, avet, vaet, or one of those with -history"`
	Entity  uint64 `arg:"-e" help:"only datoms of this entity id"`
	AsOf    uint64 `arg:"--asof" help:"read as of this transaction number"`
	Limit   no     `arg:"-n" help:"stop after this many datoms"`
	Reverse bo     `arg:"-r" help:"walk the index backwards"`
	Compact bo     `help:"flush and compact the backend before dumping"`
	Env     bo     `help:"print the configuration as a shell script and exit"`
}

func (args) Version() st { return "datomdump " + config.Version }

func (args) Description() st {
	return "datomdump prints datoms of a store configured through the environment"
}

func (args) Epilogue() st { return "run with --env to see the variables and their values" }

func main() {
	var a args
	arg.MustParse(&a)
	cfg, err := config.New()
	if chk.E(err) {
		os.Exit(1)
	}
	if a.Env {
		cfg.Usage(os.Stderr)
		cfg.PrintEnv(os.Stdout)
		return
	}
	defer cfg.Profile()()
	c, cancel := context.Cancel(context.Bg())
	var s *store.T
	if s, err = store.Open(c, cfg); chk.E(err) {
		os.Exit(1)
	}
	interrupt.AddHandler(func() {
		cancel()
		chk.E(s.Close())
	})
	w := bufio.NewWriter(os.Stdout)
	err = run(c, s, a, w)
	chk.E(w.Flush())
	interrupt.Run()
	if err != nil {
		log.E.F("%v", err)
		os.Exit(1)
	}
}

func run(c context.T, s *store.T, a args, w io.Writer) (err er) {
	if a.Compact {
		if err = s.FlushAndCompact(c); chk.E(err) {
			return
		}
	}
	var i index.Id
	if i, err = index.Parse(a.Index); err != nil {
		return
	}
	var snap *db.T
	if snap, err = s.Snapshot(); err != nil {
		return
	}
	defer snap.Release()
	if a.AsOf != 0 {
		var h *db.T
		if h, err = snap.AsOf(ids.TxFromCounter(a.AsOf)); err != nil {
			return
		}
		defer h.Release()
		snap = h
	}
	return dump(c, snap, slice(i, ids.EntityId(a.Entity), a.Reverse), ids.EntityId(a.Entity),
		a.Limit, w)
}

// slice narrows the walk to one entity where the index is ordered by entity.
func slice(i index.Id, e ids.EntityId, reverse bo) (sl db.Slice) {
	sl = db.All(i)
	if e != 0 && i.Current() == index.EAVTCurrent {
		sl = db.EntitySlice(e)
		if i.IsHistory() {
			sl = sl.History()
		}
	}
	sl.Reverse = reverse
	return
}

func dump(c context.T, snap *db.T, sl db.Slice, e ids.EntityId, limit no, w io.Writer) (err er) {
	var it *db.Iterator
	if it, err = snap.Datoms(sl); err != nil {
		return
	}
	defer it.Close()
	var n no
	for it.Next() {
		if err = c.Err(); err != nil {
			return
		}
		d := it.Datom()
		if e != 0 && d.E != e {
			continue
		}
		if _, err = fmt.Fprintln(w, format(snap, d)); err != nil {
			return
		}
		if n++; limit > 0 && n >= limit {
			break
		}
	}
	if err = it.Err(); err != nil {
		return
	}
	log.D.F("%d datoms of %s at %s", n, sl.Index, snap.Basis())
	return
}

// format renders a datom as one line: transaction, entity, attribute, value
// and the operation.
func format(snap *db.T, d *datom.T) st {
	a := d.A.String()
	if def, err := snap.Registry().Definition(d.A); err == nil {
		a = def.Symbol
	}
	op := "+"
	if d.Retract {
		op = "-"
	}
	return fmt.Sprintf("%s %s %s %s %s", d.Tx, d.E, a, value(snap, d), op)
}

func value(snap *db.T, d *datom.T) st {
	v, err := snap.Value(d)
	if err != nil {
		if d.IsOversized() {
			return "blob:" + hex.Short(d.Digest(), 8)
		}
		return "?" + err.Error()
	}
	switch x := v.(type) {
	case by:
		if d.Tag.IsBlob() {
			return st(hex.EncAppend(by("0x"), x))
		}
	case st:
		if d.Tag.IsText() {
			return fmt.Sprintf("%q", x)
		}
	case ids.EntityId:
		if d.Tag == valuetag.Reference {
			return "#" + x.String()
		}
	}
	return fmt.Sprint(v)
}
