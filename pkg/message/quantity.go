// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package message encodes and decodes the payloads carried inside
// controller frames.
//
// Physical values travel as a 3 byte quantity: a big-endian int16 mantissa
// followed by an int8 decimal exponent. Structures are written field by
// field with 1 byte enums and counts, 2 byte lengths and 4 byte times, all
// big-endian. Every encoder validates its input before producing bytes.
package message

import (
	"fmt"
	"math"
)

// QuantitySize is the encoded size of a Quantity
const QuantitySize = 3

// maxReducedExponent bounds the trailing zero reduction performed by Int
const maxReducedExponent = 3

// Quantity is a physical value of mantissa * 10^exponent
type Quantity struct {
	Mantissa int16
	Exponent int8
}

// Int returns the quantity for an integer value. Trailing decimal zeros are
// moved into the exponent, up to an exponent of 3. The remaining mantissa
// must fit an int16.
func Int(v int) (Quantity, error) {
	base := v
	exponent := 0
	for base != 0 && base%10 == 0 && exponent < maxReducedExponent {
		base /= 10
		exponent++
	}
	if base < math.MinInt16 || base > math.MaxInt16 {
		return Quantity{}, invalid("quantity", "%d cannot be represented with a 16 bit mantissa", v)
	}
	return Quantity{Mantissa: int16(base), Exponent: int8(exponent)}, nil
}

// Exp returns a quantity with a caller chosen exponent
func Exp(mantissa, exponent int) (Quantity, error) {
	if mantissa < math.MinInt16 || mantissa > math.MaxInt16 {
		return Quantity{}, invalid("quantity", "mantissa %d out of int16 range", mantissa)
	}
	if exponent < math.MinInt8 || exponent > math.MaxInt8 {
		return Quantity{}, invalid("quantity", "exponent %d out of int8 range", exponent)
	}
	return Quantity{Mantissa: int16(mantissa), Exponent: int8(exponent)}, nil
}

// Float returns the quantity for v rounded to decimals fractional digits.
// Precision is dropped until the mantissa fits an int16, then trailing
// zeros are reduced as by Int.
func Float(v float64, decimals int) (Quantity, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Quantity{}, invalid("quantity", "%v is not a finite number", v)
	}
	exponent := -decimals
	m := math.Round(v * math.Pow10(decimals))
	for (m < math.MinInt16 || m > math.MaxInt16) && exponent < math.MaxInt8 {
		m = math.Round(m / 10)
		exponent++
	}
	if m == 0 {
		return Quantity{}, nil
	}
	for math.Mod(m, 10) == 0 && exponent < maxReducedExponent {
		m /= 10
		exponent++
	}
	return Exp(int(m), exponent)
}

// Value returns the decoded numeric value
func (q Quantity) Value() float64 {
	return float64(q.Mantissa) * math.Pow10(int(q.Exponent))
}

// String implements fmt.Stringer
func (q Quantity) String() string {
	return fmt.Sprintf("%g", q.Value())
}

// EncodeQuantity returns the 3 byte wire form of q
func EncodeQuantity(q Quantity) []byte {
	return []byte{byte(uint16(q.Mantissa) >> 8), byte(uint16(q.Mantissa)), byte(q.Exponent)}
}

// DecodeQuantity parses a quantity from the first 3 bytes of data
func DecodeQuantity(data []byte) (Quantity, error) {
	r := NewReader(data)
	q := r.Quantity()
	return q, r.Err()
}
