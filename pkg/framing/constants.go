// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package framing implements the binary frame format spoken between a host
// and a Whitebeet charging communication controller.
//
// Every command, reply and notification travels in a frame of the form
//
//	0xC0 | module | sub | request | len (2, BE) | payload | checksum | 0xC1
//
// This package provides frame encoding and decoding, checksum validation,
// a streaming byte decoder for serial-style transports, and formatting,
// validation and statistics helpers used by the monitor tooling.
package framing

// Frame markers
const (
	StartOfFrame = 0xC0
	EndOfFrame   = 0xC1
)

// Frame size limits
const (
	HeaderSize     = 6 // start, module, sub, request, len_hi, len_lo
	TrailerSize    = 2 // checksum, end
	Overhead       = HeaderSize + TrailerSize
	MaxPayloadSize = 0xFFFF
)

// Request ids
const (
	// RequestIDStatus is reserved for asynchronous and status frames and
	// is never allocated to a command.
	RequestIDStatus = 0xFF

	// RequestIDMax is the highest request id handed out before wrapping.
	RequestIDMax = 0xFE
)

// NotificationThreshold is the highest sub id used by commands and replies.
// Sub ids above it are asynchronous notifications.
const NotificationThreshold = 0x7F

// ChecksumWildcard is accepted without verification. The controller sends
// it on some asynchronous frames.
const ChecksumWildcard = 0xFF

// Ack status codes carried in the first payload byte of a reply
const (
	StatusAccepted = 0x00
	StatusBusy     = 0x01
)

// Module ids
const (
	ModuleNetworkConfig = 0x05
	ModuleSystem        = 0x10
	ModuleV2G           = 0x27
	ModuleSLAC          = 0x28
	ModuleControlPilot  = 0x29
	ModuleError         = 0xFF
)

// System sub ids
const (
	SubSystemGetFirmwareVersion = 0x41
)

// Network configuration sub ids
const (
	SubNetworkSetPortMirrorState = 0x55
)

// SLAC sub ids
const (
	SubSlacStart               = 0x42
	SubSlacStop                = 0x43
	SubSlacStartMatching       = 0x44
	SubSlacSetValidationConfig = 0x4B
	SubSlacJoinNetwork         = 0x4D
	SubSlacMatchSuccess        = 0x80
	SubSlacMatchFailed         = 0x81
	SubSlacJoinStatus          = 0x84
)

// Control pilot sub ids
const (
	SubCPSetMode          = 0x40
	SubCPGetMode          = 0x41
	SubCPStart            = 0x42
	SubCPStop             = 0x43
	SubCPSetDutyCycle     = 0x44
	SubCPGetDutyCycle     = 0x45
	SubCPSetResistorValue = 0x46
	SubCPGetResistorValue = 0x47
	SubCPGetState         = 0x48
	SubCPStateChanged     = 0x81
)

// V2G common sub ids
const (
	SubV2GSetMode = 0x40
	SubV2GGetMode = 0x41
	SubV2GStart   = 0x42
	SubV2GStop    = 0x43
)

// V2G EVSE command sub ids (0x60-0x7F)
const (
	SubEVSESetConfiguration        = 0x60
	SubEVSEGetConfiguration        = 0x61
	SubEVSESetDCChargingParameters = 0x62
	SubEVSEUpdateDCChargingParams  = 0x63
	SubEVSEGetDCChargingParameters = 0x64
	SubEVSESetACChargingParameters = 0x65
	SubEVSEUpdateACChargingParams  = 0x66
	SubEVSEGetACChargingParameters = 0x67
	SubEVSESetSDPConfig            = 0x68
	SubEVSEGetSDPConfig            = 0x69
	SubEVSEStartListen             = 0x6A
	SubEVSESetAuthorizationStatus  = 0x6B
	SubEVSESetSchedules            = 0x6C
	SubEVSESetCableCheckFinished   = 0x6D
	SubEVSEStartCharging           = 0x6E
	SubEVSEStopCharging            = 0x6F
	SubEVSEStopListen              = 0x70
	SubEVSESetCertificateResponse  = 0x73
	SubEVSESetMeterReceipt         = 0x74
	SubEVSESendNotification        = 0x75
	SubEVSESetSessionParamTimeout  = 0x76
)

// V2G EVSE notification sub ids (0x80-0x91)
const (
	SubEVSESessionStarted             = 0x80
	SubEVSEPaymentSelected            = 0x81
	SubEVSERequestAuthorization       = 0x82
	SubEVSEEnergyTransferModeSelected = 0x83
	SubEVSERequestSchedules           = 0x84
	SubEVSEDCChargeParametersChanged  = 0x85
	SubEVSEACChargeParametersChanged  = 0x86
	SubEVSERequestCableCheck          = 0x87
	SubEVSEPreChargeStarted           = 0x88
	SubEVSERequestStartCharging       = 0x89
	SubEVSERequestStopCharging        = 0x8A
	SubEVSEWeldingDetectionStarted    = 0x8B
	SubEVSESessionStopped             = 0x8C
	SubEVSESessionError               = 0x8E
	SubEVSECertInstallRequested       = 0x8F
	SubEVSECertUpdateRequested        = 0x90
	SubEVSEMeteringReceiptStatus      = 0x91
)

// V2G EV command sub ids (0xA0-0xBF)
const (
	SubEVSetConfiguration        = 0xA0
	SubEVGetConfiguration        = 0xA1
	SubEVSetDCChargingParameters = 0xA2
	SubEVUpdateDCChargingParams  = 0xA3
	SubEVGetDCChargingParameters = 0xA4
	SubEVSetACChargingParameters = 0xA5
	SubEVUpdateACChargingParams  = 0xA6
	SubEVGetACChargingParameters = 0xA7
	SubEVSetChargingProfile      = 0xA8
	SubEVStartSession            = 0xA9
	SubEVStartCableCheck         = 0xAA
	SubEVStartPreCharging        = 0xAB
	SubEVStartCharging           = 0xAC
	SubEVStopCharging            = 0xAD
	SubEVStopSession             = 0xAE
)

// V2G EV notification sub ids (0xC0-0xCD)
const (
	SubEVSessionStarted            = 0xC0
	SubEVDCChargeParametersChanged = 0xC1
	SubEVACChargeParametersChanged = 0xC2
	SubEVScheduleReceived          = 0xC3
	SubEVCableCheckReady           = 0xC4
	SubEVCableCheckFinished        = 0xC5
	SubEVPreChargingReady          = 0xC6
	SubEVChargingReady             = 0xC7
	SubEVChargingStarted           = 0xC8
	SubEVChargingStopped           = 0xC9
	SubEVPostChargingReady         = 0xCA
	SubEVSessionStopped            = 0xCB
	SubEVNotificationReceived      = 0xCC
	SubEVSessionError              = 0xCD
)

// Decoder states
const (
	stateIdle = iota
	stateHeader
	statePayload
	stateTrailer
)
