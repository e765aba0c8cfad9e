// Package crc8 implements the 8-bit checksum used by the Z1 sensor protocol.
//
// The checksum is a plain (non-reflected) CRC-8 with polynomial 0x1C, zero
// initial value and no final XOR. Every request and response frame carries
// two of them: one over the 10 header bytes, one over the body.
package crc8

import (
	"sync"

	"github.com/sigurn/crc8"
)

// Polynomial is the generator polynomial used by Z1-class sensors.
const Polynomial = 0x1C

// Table is an immutable 256-entry lookup table for one polynomial.
// It is safe for concurrent use.
type Table struct {
	poly uint8
	t    *crc8.Table
}

// MakeTable generates the lookup table for poly. Each entry is produced by
// eight rounds of shift-left, XOR-with-polynomial-if-top-bit-set.
func MakeTable(poly uint8) *Table {
	return &Table{
		poly: poly,
		t: crc8.MakeTable(crc8.Params{
			Poly:   poly,
			Init:   0x00,
			RefIn:  false,
			RefOut: false,
			XorOut: 0x00,
			Name:   "CRC-8/Z1",
		}),
	}
}

var defaultTable = sync.OnceValue(func() *Table { return MakeTable(Polynomial) })

// Default returns the process-wide Z1 table, generating it on first use.
func Default() *Table { return defaultTable() }

// Poly returns the polynomial the table was generated from.
func (t *Table) Poly() uint8 { return t.poly }

// Checksum returns the CRC of b. The running value is seeded at zero, so an
// empty buffer yields zero.
func (t *Table) Checksum(b []byte) uint8 {
	if len(b) == 0 {
		return 0
	}
	return crc8.Checksum(b, t.t)
}

// Entry returns table[i]. With a zero seed the checksum of a single byte is
// exactly the table entry at that index.
func (t *Table) Entry(i uint8) uint8 {
	return crc8.Checksum([]byte{i}, t.t)
}
