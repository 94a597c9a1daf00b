// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")

	result := fmt.Sprintf("[%s] %s/%s (0x%02X/0x%02X) req=0x%02X len=%d\n",
		timestamp, FormatModule(f.moduleID), FormatSub(f.moduleID, f.subID),
		f.moduleID, f.subID, f.requestID, len(f.payload))

	if len(f.payload) > 0 {
		result += "  " + FormatHex(f.payload) + "\n"
	}

	return result
}

// FormatHex returns data as space separated upper case hex bytes
func FormatHex(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// FormatModule returns the human-readable name for a module id
func FormatModule(moduleID uint8) string {
	switch moduleID {
	case ModuleNetworkConfig:
		return "NETCONF"
	case ModuleSystem:
		return "SYSTEM"
	case ModuleV2G:
		return "V2G"
	case ModuleSLAC:
		return "SLAC"
	case ModuleControlPilot:
		return "CP"
	case ModuleError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FormatSub returns the human-readable name for a sub id of a module
func FormatSub(moduleID, subID uint8) string {
	var names map[uint8]string
	switch moduleID {
	case ModuleNetworkConfig:
		names = networkSubNames
	case ModuleSystem:
		names = systemSubNames
	case ModuleV2G:
		names = v2gSubNames
	case ModuleSLAC:
		names = slacSubNames
	case ModuleControlPilot:
		names = cpSubNames
	case ModuleError:
		return fmt.Sprintf("CODE_%02X", subID)
	}
	if name, ok := names[subID]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsKnownSub reports whether the sub id is defined for the module
func IsKnownSub(moduleID, subID uint8) bool {
	return FormatSub(moduleID, subID) != "UNKNOWN"
}

var systemSubNames = map[uint8]string{
	SubSystemGetFirmwareVersion: "GET_FIRMWARE_VERSION",
}

var networkSubNames = map[uint8]string{
	SubNetworkSetPortMirrorState: "SET_PORT_MIRROR_STATE",
}

var slacSubNames = map[uint8]string{
	SubSlacStart:               "START",
	SubSlacStop:                "STOP",
	SubSlacStartMatching:       "START_MATCHING",
	SubSlacSetValidationConfig: "SET_VALIDATION_CONFIG",
	SubSlacJoinNetwork:         "JOIN_NETWORK",
	SubSlacMatchSuccess:        "MATCH_SUCCESS",
	SubSlacMatchFailed:         "MATCH_FAILED",
	SubSlacJoinStatus:          "JOIN_STATUS",
}

var cpSubNames = map[uint8]string{
	SubCPSetMode:          "SET_MODE",
	SubCPGetMode:          "GET_MODE",
	SubCPStart:            "START",
	SubCPStop:             "STOP",
	SubCPSetDutyCycle:     "SET_DUTY_CYCLE",
	SubCPGetDutyCycle:     "GET_DUTY_CYCLE",
	SubCPSetResistorValue: "SET_RESISTOR_VALUE",
	SubCPGetResistorValue: "GET_RESISTOR_VALUE",
	SubCPGetState:         "GET_STATE",
	SubCPStateChanged:     "STATE_CHANGED",
}

var v2gSubNames = map[uint8]string{
	SubV2GSetMode: "SET_MODE",
	SubV2GGetMode: "GET_MODE",
	SubV2GStart:   "START",
	SubV2GStop:    "STOP",

	// EVSE commands
	SubEVSESetConfiguration:        "EVSE_SET_CONFIGURATION",
	SubEVSEGetConfiguration:        "EVSE_GET_CONFIGURATION",
	SubEVSESetDCChargingParameters: "EVSE_SET_DC_CHARGING_PARAMETERS",
	SubEVSEUpdateDCChargingParams:  "EVSE_UPDATE_DC_CHARGING_PARAMETERS",
	SubEVSEGetDCChargingParameters: "EVSE_GET_DC_CHARGING_PARAMETERS",
	SubEVSESetACChargingParameters: "EVSE_SET_AC_CHARGING_PARAMETERS",
	SubEVSEUpdateACChargingParams:  "EVSE_UPDATE_AC_CHARGING_PARAMETERS",
	SubEVSEGetACChargingParameters: "EVSE_GET_AC_CHARGING_PARAMETERS",
	SubEVSESetSDPConfig:            "EVSE_SET_SDP_CONFIG",
	SubEVSEGetSDPConfig:            "EVSE_GET_SDP_CONFIG",
	SubEVSEStartListen:             "EVSE_START_LISTEN",
	SubEVSESetAuthorizationStatus:  "EVSE_SET_AUTHORIZATION_STATUS",
	SubEVSESetSchedules:            "EVSE_SET_SCHEDULES",
	SubEVSESetCableCheckFinished:   "EVSE_SET_CABLE_CHECK_FINISHED",
	SubEVSEStartCharging:           "EVSE_START_CHARGING",
	SubEVSEStopCharging:            "EVSE_STOP_CHARGING",
	SubEVSEStopListen:              "EVSE_STOP_LISTEN",
	SubEVSESetCertificateResponse:  "EVSE_SET_CERTIFICATE_RESPONSE",
	SubEVSESetMeterReceipt:         "EVSE_SET_METER_RECEIPT",
	SubEVSESendNotification:        "EVSE_SEND_NOTIFICATION",
	SubEVSESetSessionParamTimeout:  "EVSE_SET_SESSION_PARAMETER_TIMEOUT",

	// EVSE notifications
	SubEVSESessionStarted:             "EVSE_SESSION_STARTED",
	SubEVSEPaymentSelected:            "EVSE_PAYMENT_SELECTED",
	SubEVSERequestAuthorization:       "EVSE_REQUEST_AUTHORIZATION",
	SubEVSEEnergyTransferModeSelected: "EVSE_ENERGY_TRANSFER_MODE_SELECTED",
	SubEVSERequestSchedules:           "EVSE_REQUEST_SCHEDULES",
	SubEVSEDCChargeParametersChanged:  "EVSE_DC_CHARGE_PARAMETERS_CHANGED",
	SubEVSEACChargeParametersChanged:  "EVSE_AC_CHARGE_PARAMETERS_CHANGED",
	SubEVSERequestCableCheck:          "EVSE_REQUEST_CABLE_CHECK",
	SubEVSEPreChargeStarted:           "EVSE_PRE_CHARGE_STARTED",
	SubEVSERequestStartCharging:       "EVSE_REQUEST_START_CHARGING",
	SubEVSERequestStopCharging:        "EVSE_REQUEST_STOP_CHARGING",
	SubEVSEWeldingDetectionStarted:    "EVSE_WELDING_DETECTION_STARTED",
	SubEVSESessionStopped:             "EVSE_SESSION_STOPPED",
	SubEVSESessionError:               "EVSE_SESSION_ERROR",
	SubEVSECertInstallRequested:       "EVSE_CERTIFICATE_INSTALLATION_REQUESTED",
	SubEVSECertUpdateRequested:        "EVSE_CERTIFICATE_UPDATE_REQUESTED",
	SubEVSEMeteringReceiptStatus:      "EVSE_METERING_RECEIPT_STATUS",

	// EV commands
	SubEVSetConfiguration:        "EV_SET_CONFIGURATION",
	SubEVGetConfiguration:        "EV_GET_CONFIGURATION",
	SubEVSetDCChargingParameters: "EV_SET_DC_CHARGING_PARAMETERS",
	SubEVUpdateDCChargingParams:  "EV_UPDATE_DC_CHARGING_PARAMETERS",
	SubEVGetDCChargingParameters: "EV_GET_DC_CHARGING_PARAMETERS",
	SubEVSetACChargingParameters: "EV_SET_AC_CHARGING_PARAMETERS",
	SubEVUpdateACChargingParams:  "EV_UPDATE_AC_CHARGING_PARAMETERS",
	SubEVGetACChargingParameters: "EV_GET_AC_CHARGING_PARAMETERS",
	SubEVSetChargingProfile:      "EV_SET_CHARGING_PROFILE",
	SubEVStartSession:            "EV_START_SESSION",
	SubEVStartCableCheck:         "EV_START_CABLE_CHECK",
	SubEVStartPreCharging:        "EV_START_PRE_CHARGING",
	SubEVStartCharging:           "EV_START_CHARGING",
	SubEVStopCharging:            "EV_STOP_CHARGING",
	SubEVStopSession:             "EV_STOP_SESSION",

	// EV notifications
	SubEVSessionStarted:            "EV_SESSION_STARTED",
	SubEVDCChargeParametersChanged: "EV_DC_CHARGE_PARAMETERS_CHANGED",
	SubEVACChargeParametersChanged: "EV_AC_CHARGE_PARAMETERS_CHANGED",
	SubEVScheduleReceived:          "EV_SCHEDULE_RECEIVED",
	SubEVCableCheckReady:           "EV_CABLE_CHECK_READY",
	SubEVCableCheckFinished:        "EV_CABLE_CHECK_FINISHED",
	SubEVPreChargingReady:          "EV_PRE_CHARGING_READY",
	SubEVChargingReady:             "EV_CHARGING_READY",
	SubEVChargingStarted:           "EV_CHARGING_STARTED",
	SubEVChargingStopped:           "EV_CHARGING_STOPPED",
	SubEVPostChargingReady:         "EV_POST_CHARGING_READY",
	SubEVSessionStopped:            "EV_SESSION_STOPPED",
	SubEVNotificationReceived:      "EV_NOTIFICATION_RECEIVED",
	SubEVSessionError:              "EV_SESSION_ERROR",
}
