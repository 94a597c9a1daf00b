// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{
			name:     "get firmware version request",
			data:     []byte{0xC0, 0x10, 0x41, 0x01, 0x00, 0x00, 0x00, 0xC1},
			expected: 0x2B,
		},
		{
			name:     "folded sum equal to 0xFF is returned unchanged",
			data:     []byte{0x80, 0x7F},
			expected: 0xFF,
		},
		{
			name:     "carry folded back in",
			data:     []byte{0xFF, 0x01},
			expected: 0xFE,
		},
		{
			name:     "empty",
			data:     []byte{},
			expected: 0xFF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Checksum(tt.data)
			if got != tt.expected {
				t.Errorf("Checksum() = 0x%02X, want 0x%02X", got, tt.expected)
			}
		})
	}
}

func TestChecksum_SixteenBitFold(t *testing.T) {
	// 300 * 0xFF = 0x12AD4, folds to 0x2AD5, then to 0xFF
	data := bytes.Repeat([]byte{0xFF}, 300)
	if got := Checksum(data); got != 0xFF {
		t.Errorf("Checksum() = 0x%02X, want 0xFF", got)
	}
}

// ============================================================
// Encode Tests
// ============================================================

func TestEncode_Layout(t *testing.T) {
	raw, err := Encode(ModuleV2G, SubEVStopCharging, 0x07, []byte{0x00})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if raw[0] != StartOfFrame {
		t.Errorf("start marker = 0x%02X, want 0x%02X", raw[0], StartOfFrame)
	}
	if raw[1] != ModuleV2G || raw[2] != SubEVStopCharging || raw[3] != 0x07 {
		t.Errorf("header = % X, want 27 AD 07", raw[1:4])
	}
	if raw[4] != 0x00 || raw[5] != 0x01 {
		t.Errorf("length = % X, want 00 01", raw[4:6])
	}
	if raw[len(raw)-1] != EndOfFrame {
		t.Errorf("end marker = 0x%02X, want 0x%02X", raw[len(raw)-1], EndOfFrame)
	}

	check := make([]byte, len(raw))
	copy(check, raw)
	check[len(check)-2] = 0x00
	if raw[len(raw)-2] != Checksum(check) {
		t.Errorf("checksum = 0x%02X, want 0x%02X", raw[len(raw)-2], Checksum(check))
	}
}

func TestEncode_EmptyPayload(t *testing.T) {
	raw, err := Encode(ModuleSystem, SubSystemGetFirmwareVersion, 0x01, nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	expected := []byte{0xC0, 0x10, 0x41, 0x01, 0x00, 0x00, 0x2B, 0xC1}
	if !bytes.Equal(raw, expected) {
		t.Errorf("Encode() = % X, want % X", raw, expected)
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	_, err := Encode(ModuleV2G, SubEVSESetSchedules, 0x01, make([]byte, MaxPayloadSize+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Encode() error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestEncodeFrame_RecordsChecksum(t *testing.T) {
	f := NewFrame(ModuleSLAC, SubSlacStart, 0x03, []byte{0x01})
	raw, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	if f.Checksum() != raw[len(raw)-2] {
		t.Errorf("Checksum() = 0x%02X, want 0x%02X", f.Checksum(), raw[len(raw)-2])
	}
}

// ============================================================
// Decode Tests
// ============================================================

func TestDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		moduleID  uint8
		subID     uint8
		requestID uint8
		payload   []byte
	}{
		{"empty payload", ModuleControlPilot, SubCPStart, 0x01, []byte{}},
		{"single byte", ModuleControlPilot, SubCPSetMode, 0x02, []byte{0x01}},
		{"notification", ModuleV2G, SubEVSessionStarted, RequestIDStatus, []byte{0x01, 0x02, 0x03}},
		{"long payload", ModuleV2G, SubEVSESetSchedules, 0xFE, bytes.Repeat([]byte{0xA5}, 1000)},
		{"markers in payload", ModuleV2G, SubEVSetConfiguration, 0x10, []byte{0xC0, 0xC1, 0xC0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.moduleID, tt.subID, tt.requestID, tt.payload)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			f, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if f.ModuleID() != tt.moduleID {
				t.Errorf("ModuleID() = 0x%02X, want 0x%02X", f.ModuleID(), tt.moduleID)
			}
			if f.SubID() != tt.subID {
				t.Errorf("SubID() = 0x%02X, want 0x%02X", f.SubID(), tt.subID)
			}
			if f.RequestID() != tt.requestID {
				t.Errorf("RequestID() = 0x%02X, want 0x%02X", f.RequestID(), tt.requestID)
			}
			if !bytes.Equal(f.Payload(), tt.payload) {
				t.Errorf("Payload() = % X, want % X", f.Payload(), tt.payload)
			}
		})
	}
}

func TestDecode_PayloadMutationDetected(t *testing.T) {
	payload := []byte{0x10, 0x20, 0x30, 0x40, 0x50}
	raw, err := Encode(ModuleV2G, SubEVSetDCChargingParameters, 0x05, payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if isWildcardChecksum(raw[len(raw)-2]) {
		t.Skip("encoded checksum collides with wildcard")
	}

	for i := range payload {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(raw))
			copy(mutated, raw)
			mutated[HeaderSize+i] ^= 1 << bit

			_, err := Decode(mutated)
			var checksumErr *ChecksumError
			if !errors.As(err, &checksumErr) {
				t.Errorf("byte %d bit %d: Decode() error = %v, want ChecksumError", i, bit, err)
				continue
			}
			if !bytes.Equal(checksumErr.Raw, mutated) {
				t.Errorf("ChecksumError.Raw = % X, want % X", checksumErr.Raw, mutated)
			}
		}
	}
}

func TestDecode_ChecksumErrorMessage(t *testing.T) {
	raw, _ := Encode(ModuleSLAC, SubSlacStop, 0x01, nil)
	raw[len(raw)-2] ^= 0x01

	_, err := Decode(raw)
	if err == nil {
		t.Fatal("Decode() should fail on a corrupted checksum")
	}
	if !strings.Contains(err.Error(), "C0 28 43 01") {
		t.Errorf("error should carry a hex dump, got %q", err.Error())
	}
}

func TestDecode_WildcardChecksum(t *testing.T) {
	raw, _ := Encode(ModuleSLAC, SubSlacMatchSuccess, RequestIDStatus, nil)
	raw[len(raw)-2] = ChecksumWildcard

	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.SubID() != SubSlacMatchSuccess {
		t.Errorf("SubID() = 0x%02X, want 0x%02X", f.SubID(), SubSlacMatchSuccess)
	}
}

func TestDecode_ZeroChecksumIsVerified(t *testing.T) {
	raw, _ := Encode(ModuleV2G, SubV2GStart, 0x05, []byte{0x01, 0x02})
	raw[HeaderSize] ^= 0x55
	raw[len(raw)-2] = 0x00

	f, err := Decode(raw)
	if err == nil {
		t.Fatalf("Decode() accepted a corrupted frame with checksum 0x00: payload % X", f.Payload())
	}
	var csErr *ChecksumError
	if !errors.As(err, &csErr) {
		t.Fatalf("Decode() error = %v, want *ChecksumError", err)
	}
	if csErr.Received != 0x00 {
		t.Errorf("Received = 0x%02X, want 0x00", csErr.Received)
	}

	d := NewDecoder()
	for _, b := range raw {
		if f, err := d.DecodeByte(b); f != nil && err == nil {
			t.Fatalf("DecodeByte() surfaced a corrupted frame: % X", f.Payload())
		}
	}
}

func TestDecode_MalformedFrames(t *testing.T) {
	valid, _ := Encode(ModuleV2G, SubV2GStart, 0x01, []byte{0xAA, 0xBB})

	badStart := append([]byte{}, valid...)
	badStart[0] = 0x00

	badEnd := append([]byte{}, valid...)
	badEnd[len(badEnd)-1] = 0x00

	tests := []struct {
		name    string
		raw     []byte
		wantErr error
	}{
		{"empty", []byte{}, ErrTruncated},
		{"bad start marker", badStart, ErrStartMarker},
		{"bad end marker", badEnd, ErrEndMarker},
		{"truncated length field", valid[:5], ErrTruncated},
		{"truncated payload", valid[:7], ErrTruncated},
		{"missing trailer", valid[:len(valid)-1], ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.raw)
			if f != nil {
				t.Errorf("Decode() returned a frame for malformed input")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecode_TrailingPaddingIgnored(t *testing.T) {
	raw, _ := Encode(ModuleControlPilot, SubCPGetState, 0x09, []byte{0x00, 0x01})
	padded := append(append([]byte{}, raw...), make([]byte, 20)...)

	f, err := Decode(padded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(f.Payload(), []byte{0x00, 0x01}) {
		t.Errorf("Payload() = % X, want 00 01", f.Payload())
	}
}

// ============================================================
// Stream Decoder Tests
// ============================================================

func TestDecoder_SkipsNoiseBeforeFrame(t *testing.T) {
	raw, _ := Encode(ModuleV2G, SubEVChargingStarted, RequestIDStatus, nil)
	stream := append([]byte{0x00, 0x13, 0x37, 0xC1}, raw...)

	d := NewDecoder()
	frames := d.Feed(stream, func(err error) {
		t.Errorf("unexpected decode error: %v", err)
	})

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].SubID() != SubEVChargingStarted {
		t.Errorf("SubID() = 0x%02X, want 0x%02X", frames[0].SubID(), SubEVChargingStarted)
	}
}

func TestDecoder_BackToBackFrames(t *testing.T) {
	first, _ := Encode(ModuleV2G, SubEVCableCheckReady, RequestIDStatus, nil)
	second, _ := Encode(ModuleV2G, SubEVSessionError, RequestIDStatus, []byte{0x03})

	d := NewDecoder()
	frames := d.Feed(append(first, second...), nil)

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].SubID() != SubEVCableCheckReady || frames[1].SubID() != SubEVSessionError {
		t.Errorf("frames out of order: 0x%02X, 0x%02X", frames[0].SubID(), frames[1].SubID())
	}
}

func TestDecoder_CorruptFrameThenValidFrame(t *testing.T) {
	bad, _ := Encode(ModuleV2G, SubEVChargingReady, RequestIDStatus, []byte{0x01})
	bad[HeaderSize] ^= 0x02
	good, _ := Encode(ModuleV2G, SubEVChargingStopped, RequestIDStatus, nil)

	var errs []error
	d := NewDecoder()
	frames := d.Feed(append(bad, good...), func(err error) { errs = append(errs, err) })

	if len(errs) != 1 {
		t.Errorf("got %d errors, want 1", len(errs))
	}
	if len(frames) != 1 || frames[0].SubID() != SubEVChargingStopped {
		t.Fatalf("expected only the valid frame, got %d frames", len(frames))
	}
}

func TestDecoder_TruncatedLengthNeverYieldsFrame(t *testing.T) {
	d := NewDecoder()
	for _, b := range []byte{0xC0, 0x27, 0xC0, 0x01, 0x00} {
		f, err := d.DecodeByte(b)
		if f != nil || err != nil {
			t.Fatalf("DecodeByte(0x%02X) = %v, %v; want nil, nil", b, f, err)
		}
	}
	if len(d.GetRawBytes()) != 5 {
		t.Errorf("GetRawBytes() len = %d, want 5", len(d.GetRawBytes()))
	}

	d.Reset()
	if len(d.GetRawBytes()) != 0 {
		t.Errorf("GetRawBytes() after Reset len = %d, want 0", len(d.GetRawBytes()))
	}
}

func TestDecoder_CollectByteReturnsRawFrame(t *testing.T) {
	raw, _ := Encode(ModuleSystem, SubSystemGetFirmwareVersion, 0x01, []byte{0x00, 0x05})

	d := NewDecoder()
	var got []byte
	for _, b := range raw {
		if out := d.CollectByte(b); out != nil {
			got = out
		}
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("CollectByte() = % X, want % X", got, raw)
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name     string
		frame    *Frame
		wantType []AnomalyType
	}{
		{
			name:  "valid duty cycle reply",
			frame: NewFrame(ModuleControlPilot, SubCPGetDutyCycle, 0x04, []byte{0x00, 0x00, 0x32}),
		},
		{
			name:     "error module",
			frame:    NewFrame(ModuleError, 0x02, 0x04, nil),
			wantType: []AnomalyType{AnomalyErrorFrame},
		},
		{
			name:     "unknown module",
			frame:    NewFrame(0x42, 0x01, 0x04, nil),
			wantType: []AnomalyType{AnomalyUnknownModule},
		},
		{
			name:     "unknown sub",
			frame:    NewFrame(ModuleSLAC, 0x7A, 0x04, nil),
			wantType: []AnomalyType{AnomalyUnknownSub},
		},
		{
			name:     "length mismatch",
			frame:    NewFrame(ModuleControlPilot, SubCPGetState, 0x04, []byte{0x00, 0x01, 0x02}),
			wantType: []AnomalyType{AnomalyLengthMismatch},
		},
		{
			name:  "rejected reply is not a length mismatch",
			frame: NewFrame(ModuleControlPilot, SubCPGetState, 0x04, []byte{0x05}),
		},
		{
			name:     "notification with correlated request id",
			frame:    NewFrame(ModuleV2G, SubEVChargingStarted, 0x12, nil),
			wantType: []AnomalyType{AnomalyRequestID},
		},
		{
			name:     "reply with status request id",
			frame:    NewFrame(ModuleV2G, SubV2GStart, RequestIDStatus, []byte{0x00}),
			wantType: []AnomalyType{AnomalyRequestID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateFrame(tt.frame)
			if len(errs) != len(tt.wantType) {
				t.Fatalf("ValidateFrame() returned %d errors (%v), want %d", len(errs), errs, len(tt.wantType))
			}
			for i, want := range tt.wantType {
				if errs[i].Type != want {
					t.Errorf("error %d type = %d, want %d", i, errs[i].Type, want)
				}
			}
		})
	}
}

// ============================================================
// Formatter and Statistics Tests
// ============================================================

func TestFormatFrame(t *testing.T) {
	f := NewFrame(ModuleV2G, SubEVSessionStarted, RequestIDStatus, []byte{0x01, 0xAB})
	out := FormatFrame(f)

	for _, want := range []string{"V2G/EV_SESSION_STARTED", "(0x27/0xC0)", "req=0xFF", "len=2", "01 AB"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatFrame() = %q, missing %q", out, want)
		}
	}
}

func TestFormatSub_ErrorModule(t *testing.T) {
	if got := FormatSub(ModuleError, 0x03); got != "CODE_03" {
		t.Errorf("FormatSub() = %q, want CODE_03", got)
	}
}

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	s.Update(NewFrame(ModuleV2G, SubEVChargingStarted, RequestIDStatus, nil), nil, nil)
	s.Update(nil, &ChecksumError{Expected: 1, Received: 2}, nil)
	s.Update(nil, ErrEndMarker, nil)
	f := NewFrame(ModuleError, 0x01, 0x01, nil)
	s.Update(f, nil, ValidateFrame(f))
	s.RecordSent()
	s.RecordBusy()
	s.RecordTimeout()
	s.RecordBacklog(3)
	s.RecordBacklog(1)

	if s.TotalFrames != 4 {
		t.Errorf("TotalFrames = %d, want 4", s.TotalFrames)
	}
	if s.ValidFrames != 1 || s.Notifications != 1 {
		t.Errorf("ValidFrames = %d, Notifications = %d, want 1, 1", s.ValidFrames, s.Notifications)
	}
	if s.ChecksumErrors != 1 || s.DecodeErrors != 1 || s.ErrorFrames != 1 {
		t.Errorf("ChecksumErrors = %d, DecodeErrors = %d, ErrorFrames = %d, want 1 each",
			s.ChecksumErrors, s.DecodeErrors, s.ErrorFrames)
	}
	if s.BacklogHighWater != 3 {
		t.Errorf("BacklogHighWater = %d, want 3", s.BacklogHighWater)
	}

	out := s.String()
	for _, want := range []string{"Total Frames:", "Checksum Errors:", "Busy Retries:", "Backlog Peak:"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q", want)
		}
	}

	s.Reset()
	if s.TotalFrames != 0 || s.FramesSent != 0 {
		t.Errorf("Reset() did not clear counters")
	}
}
