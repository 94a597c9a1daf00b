// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyUnknownModule AnomalyType = iota
	AnomalyUnknownSub
	AnomalyErrorFrame
	AnomalyLengthMismatch
	AnomalyRequestID
	AnomalyChecksumError
	AnomalyDecodeError
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// fixedLengths lists replies and notifications whose payload length is
// fixed by the protocol
var fixedLengths = map[uint8]map[uint8]int{
	ModuleControlPilot: {
		SubCPGetMode:      2,
		SubCPGetDutyCycle: 3,
		SubCPGetState:     2,
	},
	ModuleSLAC: {
		SubSlacMatchSuccess: 0,
		SubSlacMatchFailed:  0,
		SubSlacJoinStatus:   1,
	},
	ModuleV2G: {
		SubV2GGetMode:                  2,
		SubEVCableCheckReady:           0,
		SubEVCableCheckFinished:        0,
		SubEVPreChargingReady:          0,
		SubEVChargingReady:             0,
		SubEVChargingStarted:           0,
		SubEVChargingStopped:           0,
		SubEVPostChargingReady:         0,
		SubEVSessionStopped:            0,
		SubEVNotificationReceived:      3,
		SubEVSessionError:              1,
		SubEVSESessionError:            1,
		SubEVSESessionStopped:          1,
		SubEVSEPreChargeStarted:        0,
		SubEVSEWeldingDetectionStarted: 0,
		SubEVSEMeteringReceiptStatus:   1,
	},
}

// ValidateFrame validates frame structure and detects anomalies.
// Returns a slice of validation errors (empty if the frame is valid).
func ValidateFrame(f *Frame) []ValidationError {
	errors := []ValidationError{}

	if f.IsError() {
		return append(errors, ValidationError{
			Type:    AnomalyErrorFrame,
			Message: fmt.Sprintf("Framing error frame, code 0x%02X", f.subID),
			Details: map[string]interface{}{"code": f.subID, "request_id": f.requestID},
		})
	}

	if FormatModule(f.moduleID) == "UNKNOWN" {
		return append(errors, ValidationError{
			Type:    AnomalyUnknownModule,
			Message: fmt.Sprintf("Unknown module id 0x%02X", f.moduleID),
			Details: map[string]interface{}{"module": f.moduleID},
		})
	}

	if !IsKnownSub(f.moduleID, f.subID) {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownSub,
			Message: fmt.Sprintf("Unknown sub id 0x%02X for module %s", f.subID, FormatModule(f.moduleID)),
			Details: map[string]interface{}{"module": f.moduleID, "sub": f.subID},
		})
	}

	// Notifications carry 0x00 or the status id, replies never carry the status id
	if f.IsNotification() {
		if f.requestID != RequestIDStatus && f.requestID != 0x00 {
			errors = append(errors, ValidationError{
				Type:    AnomalyRequestID,
				Message: fmt.Sprintf("Notification with correlated request id 0x%02X", f.requestID),
				Details: map[string]interface{}{"request_id": f.requestID},
			})
		}
	} else if f.requestID == RequestIDStatus {
		errors = append(errors, ValidationError{
			Type:    AnomalyRequestID,
			Message: "Reply carries reserved request id 0xFF",
			Details: map[string]interface{}{"request_id": f.requestID},
		})
	}

	if subs, ok := fixedLengths[f.moduleID]; ok {
		if expected, ok := subs[f.subID]; ok && len(f.payload) != expected {
			// Rejected replies carry only the status byte
			rejected := !f.IsNotification() && len(f.payload) == 1 && f.payload[0] != StatusAccepted
			if !rejected {
				errors = append(errors, ValidationError{
					Type: AnomalyLengthMismatch,
					Message: fmt.Sprintf("%s payload length mismatch: received=%d, expected=%d",
						FormatSub(f.moduleID, f.subID), len(f.payload), expected),
					Details: map[string]interface{}{"received": len(f.payload), "expected": expected},
				})
			}
		}
	}

	return errors
}
