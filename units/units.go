// Package units names data sizes in bytes, both decimal (Kb, Mb, Gb) and
// binary (KiB, MiB, GiB).
package units

const (
	Kilobyte = 1000
	Kb       = Kilobyte
	Megabyte = Kilobyte * Kilobyte
	Mb       = Megabyte
	Gigabyte = Megabyte * Kilobyte
	Gb       = Gigabyte

	KiB = 1 << 10
	MiB = 1 << 20
	GiB = 1 << 30
)
