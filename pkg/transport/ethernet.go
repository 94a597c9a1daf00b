// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/Thermoquad/whitebeet/pkg/framing"
)

// EtherType carries host interface frames on the controller's Ethernet port
const EtherType layers.EthernetType = 0x6003

// Ethernet payload prefix preceding every frame
const (
	ethernetPrefixSize = 4
	ethernetMagic      = 0x0004
)

// ethernetLargeFrame is the frame size above which the controller may
// drop the packet
const ethernetLargeFrame = 1450

const (
	ethernetSnapLen     = 65535
	ethernetReadTimeout = 100 * time.Millisecond
)

// Ethernet exchanges frames with the controller as raw Ethernet packets of
// EtherType 0x6003
type Ethernet struct {
	handle *pcap.Handle
	src    net.HardwareAddr
	dst    net.HardwareAddr
	queue  *Queue
	log    *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// OpenEthernet captures on iface and addresses the controller at mac
func OpenEthernet(iface string, mac net.HardwareAddr) (*Ethernet, error) {
	if len(mac) != 6 {
		return nil, fmt.Errorf("controller MAC address is required for the Ethernet interface")
	}
	nic, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("lookup interface: %w", err)
	}
	if len(nic.HardwareAddr) == 0 {
		return nil, fmt.Errorf("interface %s has no MAC address", iface)
	}

	handle, err := pcap.OpenLive(iface, ethernetSnapLen, true, ethernetReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("open live capture: %w", err)
	}
	filter := fmt.Sprintf("ether proto 0x%04x and ether src %s", uint16(EtherType), mac)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set BPF filter: %w", err)
	}

	e := &Ethernet{
		handle: handle,
		src:    nic.HardwareAddr,
		dst:    mac,
		queue:  NewQueue(DefaultQueueSize),
		log:    transportLogger("ethernet", "iface", iface, "controller", mac.String()),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go e.captureLoop()
	e.log.Info("capture started", "filter", filter)
	return e, nil
}

func (e *Ethernet) captureLoop() {
	defer close(e.done)
	defer e.queue.Close()

	for {
		select {
		case <-e.stop:
			return
		default:
		}

		data, _, err := e.handle.ReadPacketData()
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			continue
		}
		if err != nil {
			e.log.Warn("capture failed", "error", err)
			return
		}

		packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
		eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
		if !ok || eth.EthernetType != EtherType {
			continue
		}
		raw, ok := unwrapEthernetPayload(eth.Payload)
		if !ok {
			e.log.Debug("dropped packet without a complete frame", "length", len(eth.Payload))
			continue
		}
		if !e.queue.Push(raw) {
			return
		}
	}
}

// Send wraps the frame in an Ethernet packet addressed to the controller
func (e *Ethernet) Send(frame []byte) error {
	if e.queue.Closed() {
		return ErrClosed
	}
	if len(frame) > ethernetLargeFrame {
		e.log.Warn("sending large frame", "length", len(frame))
	}

	eth := &layers.Ethernet{
		SrcMAC:       e.src,
		DstMAC:       e.dst,
		EthernetType: EtherType,
	}
	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buffer, opts, eth, gopacket.Payload(wrapEthernetPayload(frame))); err != nil {
		return fmt.Errorf("serialize packet: %w", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.handle.WritePacketData(buffer.Bytes()); err != nil {
		return fmt.Errorf("send packet: %w", err)
	}
	return nil
}

// TryReceive returns the next raw frame without blocking
func (e *Ethernet) TryReceive() ([]byte, error) {
	return e.queue.TryPop()
}

// HasPending reports whether a frame is queued
func (e *Ethernet) HasPending() bool {
	return e.queue.Len() > 0
}

// Shutdown stops the capture and closes the pcap handle
func (e *Ethernet) Shutdown() error {
	e.closeOnce.Do(func() {
		close(e.stop)
		e.queue.Close()
		<-e.done
		e.handle.Close()
		e.log.Debug("capture stopped")
	})
	return nil
}

// wrapEthernetPayload prefixes frame with the 0x0004 marker and its length
func wrapEthernetPayload(frame []byte) []byte {
	out := make([]byte, ethernetPrefixSize, ethernetPrefixSize+len(frame))
	out[0] = byte(ethernetMagic >> 8)
	out[1] = byte(ethernetMagic)
	out[2] = byte(len(frame) >> 8)
	out[3] = byte(len(frame))
	return append(out, frame...)
}

// unwrapEthernetPayload strips the prefix and any link-layer padding. It
// reports false when no complete frame follows the prefix.
func unwrapEthernetPayload(payload []byte) ([]byte, bool) {
	if len(payload) < ethernetPrefixSize+framing.Overhead {
		return nil, false
	}
	body := payload[ethernetPrefixSize:]
	if body[0] != framing.StartOfFrame {
		return nil, false
	}
	total := framing.Overhead + (int(body[4])<<8 | int(body[5]))
	if len(body) < total || body[total-1] != framing.EndOfFrame {
		return nil, false
	}
	raw := make([]byte, total)
	copy(raw, body[:total])
	return raw, true
}
