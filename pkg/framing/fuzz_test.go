// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomFrame returns the fields and encoding of a random well-formed frame
func randomFrame(t *testing.T, rng *rand.Rand) (mod, sub, req uint8, payload, raw []byte) {
	mod = uint8(rng.Intn(256))
	sub = uint8(rng.Intn(256))
	req = uint8(rng.Intn(256))
	payload = make([]byte, rng.Intn(512))
	rng.Read(payload)

	raw, err := Encode(mod, sub, req, payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return mod, sub, req, payload, raw
}

// ============================================================
// Codec Fuzz Tests
// ============================================================

// TestFuzzDecode_RoundTrip encodes random frames and decodes them back
func TestFuzzDecode_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		mod, sub, req, payload, raw := randomFrame(t, rng)

		f, err := Decode(raw)
		if err != nil {
			t.Errorf("Round %d: unexpected decode error: %v", i, err)
			continue
		}
		if f.ModuleID() != mod || f.SubID() != sub || f.RequestID() != req {
			t.Errorf("Round %d: header mismatch: got %02X/%02X/%02X, want %02X/%02X/%02X",
				i, f.ModuleID(), f.SubID(), f.RequestID(), mod, sub, req)
		}
		if !bytes.Equal(f.Payload(), payload) {
			t.Errorf("Round %d: payload mismatch", i)
		}
	}
}

// TestFuzzDecode_SingleBitCorruption flips one payload bit and expects a
// checksum error. A flip changes the sum by a power of two, which the
// folded checksum always detects.
func TestFuzzDecode_SingleBitCorruption(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		_, _, _, payload, raw := randomFrame(t, rng)
		if len(payload) == 0 || isWildcardChecksum(raw[len(raw)-2]) {
			continue
		}

		idx := HeaderSize + rng.Intn(len(payload))
		raw[idx] ^= 1 << uint(rng.Intn(8))

		_, err := Decode(raw)
		var checksumErr *ChecksumError
		if !errors.As(err, &checksumErr) {
			t.Errorf("Round %d: expected checksum error, got %v", i, err)
		}
	}
}

// ============================================================
// Stream Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBytes feeds random bytes to the decoder
// and verifies it doesn't crash or panic
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		for _, b := range data {
			d.DecodeByte(b)
		}
	}
}

// TestFuzzDecoder_FramesBetweenNoise interleaves valid frames with noise
// that contains no start marker and expects every frame back in order
func TestFuzzDecoder_FramesBetweenNoise(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		count := rng.Intn(4) + 1
		var stream []byte
		var want [][]byte
		for j := 0; j < count; j++ {
			noise := make([]byte, rng.Intn(16))
			for k := range noise {
				noise[k] = byte(rng.Intn(StartOfFrame))
			}
			stream = append(stream, noise...)

			_, _, _, payload, raw := randomFrame(t, rng)
			stream = append(stream, raw...)
			want = append(want, payload)
		}

		frames := d.Feed(stream, func(err error) {
			t.Errorf("Round %d: unexpected decode error: %v", i, err)
		})
		if len(frames) != len(want) {
			t.Errorf("Round %d: got %d frames, want %d", i, len(frames), len(want))
			continue
		}
		for j, f := range frames {
			if !bytes.Equal(f.Payload(), want[j]) {
				t.Errorf("Round %d: frame %d payload mismatch", i, j)
			}
		}
	}
}
