// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

import (
	"fmt"

	"github.com/Thermoquad/whitebeet/pkg/framing"
)

// Protocol identifies a V2G application protocol
type Protocol uint8

const (
	ProtocolDIN70121 Protocol = 0
	ProtocolISO15118 Protocol = 1
)

func (p Protocol) String() string {
	switch p {
	case ProtocolDIN70121:
		return "DIN70121"
	case ProtocolISO15118:
		return "ISO15118-2"
	default:
		return fmt.Sprintf("PROTOCOL_%d", uint8(p))
	}
}

// PaymentMethod identifies how a session is paid for
type PaymentMethod uint8

const (
	PaymentExternal PaymentMethod = 0
	PaymentContract PaymentMethod = 1
)

func (m PaymentMethod) String() string {
	switch m {
	case PaymentExternal:
		return "EIM"
	case PaymentContract:
		return "CONTRACT"
	default:
		return fmt.Sprintf("PAYMENT_%d", uint8(m))
	}
}

// EnergyTransferMode identifies the DC or AC charging mode
type EnergyTransferMode uint8

const (
	ModeDCCore EnergyTransferMode = iota
	ModeDCExtended
	ModeDCComboCore
	ModeDCUnique
	ModeACSinglePhase
	ModeACThreePhase
)

// IsDC reports whether m is one of the DC modes
func (m EnergyTransferMode) IsDC() bool {
	return m <= ModeDCUnique
}

// IsAC reports whether m is one of the AC modes
func (m EnergyTransferMode) IsAC() bool {
	return m == ModeACSinglePhase || m == ModeACThreePhase
}

// Valid reports whether m is a defined mode
func (m EnergyTransferMode) Valid() bool {
	return m <= ModeACThreePhase
}

func (m EnergyTransferMode) String() string {
	switch m {
	case ModeDCCore:
		return "DC_CORE"
	case ModeDCExtended:
		return "DC_EXTENDED"
	case ModeDCComboCore:
		return "DC_COMBO_CORE"
	case ModeDCUnique:
		return "DC_UNIQUE"
	case ModeACSinglePhase:
		return "AC_SINGLE_PHASE_CORE"
	case ModeACThreePhase:
		return "AC_THREE_PHASE_CORE"
	default:
		return fmt.Sprintf("MODE_%d", uint8(m))
	}
}

// HasDC reports whether any of modes is a DC mode
func HasDC(modes []EnergyTransferMode) bool {
	for _, m := range modes {
		if m.IsDC() {
			return true
		}
	}
	return false
}

// HasAC reports whether any of modes is an AC mode
func HasAC(modes []EnergyTransferMode) bool {
	for _, m := range modes {
		if m.IsAC() {
			return true
		}
	}
	return false
}

// SessionErrorCode is the code carried by a session error notification
type SessionErrorCode uint8

const (
	ErrorCodeNone SessionErrorCode = iota
	ErrorCodePaymentUnavailable
	ErrorCodeModeUnavailable
	ErrorCodeWrongChargeParameter
	ErrorCodePowerDeliveryNotApplied
	ErrorCodeProfileInvalid
	ErrorCodeContactor
	ErrorCodeUndervoltage
	ErrorCodeUnspecified
)

func (c SessionErrorCode) String() string {
	switch c {
	case ErrorCodePaymentUnavailable:
		return "Selected payment option unavailable"
	case ErrorCodeModeUnavailable:
		return "Selected energy transfer mode unavailable"
	case ErrorCodeWrongChargeParameter:
		return "Wrong charge parameter"
	case ErrorCodePowerDeliveryNotApplied:
		return "Power delivery not applied (EVSE is not able to deliver energy)"
	case ErrorCodeProfileInvalid:
		return "Charging profile invalid"
	case ErrorCodeContactor:
		return "Contactor error"
	case ErrorCodeUndervoltage:
		return "EVSE present voltage too low"
	case ErrorCodeUnspecified:
		return "Unspecified error (no details delivered by EVSE)"
	default:
		return "error code not available"
	}
}

// EVNotificationKind is a notification received in EV mode
type EVNotificationKind uint8

const (
	EVSessionStarted            EVNotificationKind = framing.SubEVSessionStarted
	EVDCChargeParametersChanged EVNotificationKind = framing.SubEVDCChargeParametersChanged
	EVACChargeParametersChanged EVNotificationKind = framing.SubEVACChargeParametersChanged
	EVScheduleReceived          EVNotificationKind = framing.SubEVScheduleReceived
	EVCableCheckReady           EVNotificationKind = framing.SubEVCableCheckReady
	EVCableCheckFinished        EVNotificationKind = framing.SubEVCableCheckFinished
	EVPreChargingReady          EVNotificationKind = framing.SubEVPreChargingReady
	EVChargingReady             EVNotificationKind = framing.SubEVChargingReady
	EVChargingStarted           EVNotificationKind = framing.SubEVChargingStarted
	EVChargingStopped           EVNotificationKind = framing.SubEVChargingStopped
	EVPostChargingReady         EVNotificationKind = framing.SubEVPostChargingReady
	EVSessionStopped            EVNotificationKind = framing.SubEVSessionStopped
	EVNotificationReceived      EVNotificationKind = framing.SubEVNotificationReceived
	EVSessionError              EVNotificationKind = framing.SubEVSessionError
)

// EVNotificationKinds lists every EV notification in sub id order
var EVNotificationKinds = []EVNotificationKind{
	EVSessionStarted, EVDCChargeParametersChanged, EVACChargeParametersChanged,
	EVScheduleReceived, EVCableCheckReady, EVCableCheckFinished, EVPreChargingReady,
	EVChargingReady, EVChargingStarted, EVChargingStopped, EVPostChargingReady,
	EVSessionStopped, EVNotificationReceived, EVSessionError,
}

// Valid reports whether k is a defined EV notification
func (k EVNotificationKind) Valid() bool {
	return k >= EVSessionStarted && k <= EVSessionError
}

func (k EVNotificationKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("EV_UNKNOWN_%02X", uint8(k))
	}
	return framing.FormatSub(framing.ModuleV2G, uint8(k))
}

// EVSENotificationKind is a notification received in EVSE mode
type EVSENotificationKind uint8

const (
	EVSESessionStarted             EVSENotificationKind = framing.SubEVSESessionStarted
	EVSEPaymentSelected            EVSENotificationKind = framing.SubEVSEPaymentSelected
	EVSERequestAuthorization       EVSENotificationKind = framing.SubEVSERequestAuthorization
	EVSEEnergyTransferModeSelected EVSENotificationKind = framing.SubEVSEEnergyTransferModeSelected
	EVSERequestSchedules           EVSENotificationKind = framing.SubEVSERequestSchedules
	EVSEDCChargeParametersChanged  EVSENotificationKind = framing.SubEVSEDCChargeParametersChanged
	EVSEACChargeParametersChanged  EVSENotificationKind = framing.SubEVSEACChargeParametersChanged
	EVSERequestCableCheck          EVSENotificationKind = framing.SubEVSERequestCableCheck
	EVSEPreChargeStarted           EVSENotificationKind = framing.SubEVSEPreChargeStarted
	EVSERequestStartCharging       EVSENotificationKind = framing.SubEVSERequestStartCharging
	EVSERequestStopCharging        EVSENotificationKind = framing.SubEVSERequestStopCharging
	EVSEWeldingDetectionStarted    EVSENotificationKind = framing.SubEVSEWeldingDetectionStarted
	EVSESessionStopped             EVSENotificationKind = framing.SubEVSESessionStopped
	EVSESessionError               EVSENotificationKind = framing.SubEVSESessionError
	EVSECertInstallRequested       EVSENotificationKind = framing.SubEVSECertInstallRequested
	EVSECertUpdateRequested        EVSENotificationKind = framing.SubEVSECertUpdateRequested
	EVSEMeteringReceiptStatus      EVSENotificationKind = framing.SubEVSEMeteringReceiptStatus
)

// EVSENotificationKinds lists every EVSE notification in sub id order
var EVSENotificationKinds = []EVSENotificationKind{
	EVSESessionStarted, EVSEPaymentSelected, EVSERequestAuthorization,
	EVSEEnergyTransferModeSelected, EVSERequestSchedules, EVSEDCChargeParametersChanged,
	EVSEACChargeParametersChanged, EVSERequestCableCheck, EVSEPreChargeStarted,
	EVSERequestStartCharging, EVSERequestStopCharging, EVSEWeldingDetectionStarted,
	EVSESessionStopped, EVSESessionError, EVSECertInstallRequested,
	EVSECertUpdateRequested, EVSEMeteringReceiptStatus,
}

// Valid reports whether k is a defined EVSE notification. 0x8D is not
// assigned.
func (k EVSENotificationKind) Valid() bool {
	return k >= EVSESessionStarted && k <= EVSEMeteringReceiptStatus && k != 0x8D
}

func (k EVSENotificationKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("EVSE_UNKNOWN_%02X", uint8(k))
	}
	return framing.FormatSub(framing.ModuleV2G, uint8(k))
}
