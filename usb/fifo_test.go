package usb

import (
	"bytes"
	"testing"
	"time"
)

func TestFifoShortPacketEndsRead(t *testing.T) {
	device, host := NewFifoPair(512)

	if err := host.WritePacket([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 512)
	n, err := device.ReadPacket(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 5 || string(buf[:n]) != "hello" {
		t.Fatalf("got %d bytes %q", n, buf[:n])
	}
}

func TestFifoCoalescesFullPackets(t *testing.T) {
	device, host := NewFifoPair(512)

	// 1024 bytes followed by a short 4 byte tail: one logical
	// transmission for a large read.
	payload := bytes.Repeat([]byte{0xAB}, 1028)
	if err := host.WritePacket(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := device.ReadPacket(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("got %d bytes, want %d", n, len(payload))
	}
}

func TestFifoReadStopsAtBufferBoundary(t *testing.T) {
	device, host := NewFifoPair(512)

	if err := host.WritePacket(bytes.Repeat([]byte{1}, 1024)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := host.WritePacket([]byte{2, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 1024)
	n, err := device.ReadPacket(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 1024 {
		t.Fatalf("first read got %d bytes, want 1024", n)
	}

	n, err = device.ReadPacket(buf)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if n != 2 {
		t.Fatalf("second read got %d bytes, want 2", n)
	}
}

func TestFifoZeroLengthPacket(t *testing.T) {
	device, host := NewFifoPair(512)

	// An exact multiple followed by an explicit ZLP.
	if err := host.WritePacket(bytes.Repeat([]byte{7}, 512)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := host.WritePacket(nil); err != nil {
		t.Fatalf("write zlp: %v", err)
	}

	buf := make([]byte, 512)
	n, err := device.ReadPacket(buf)
	if err != nil || n != 512 {
		t.Fatalf("read got n=%d err=%v", n, err)
	}
	n, err = device.ReadPacket(buf)
	if err != nil {
		t.Fatalf("zlp read: %v", err)
	}
	if n != 0 {
		t.Fatalf("zlp read got %d bytes, want 0", n)
	}
}

func TestFifoCloseUnblocksReader(t *testing.T) {
	device, _ := NewFifoPair(512)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 512)
		_, err := device.ReadPacket(buf)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	device.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader did not unblock after close")
	}
}

func TestFifoReadReadySignals(t *testing.T) {
	device, host := NewFifoPair(512)

	select {
	case <-device.ReadReady():
		t.Fatal("ready before any packet")
	default:
	}

	if err := host.WritePacket([]byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-device.ReadReady():
	case <-time.After(time.Second):
		t.Fatal("ready never signaled")
	}

	// The packet is still there; a read must succeed even though the
	// ready token was consumed.
	buf := make([]byte, 512)
	n, err := device.ReadPacket(buf)
	if err != nil || n != 1 {
		t.Fatalf("read got n=%d err=%v", n, err)
	}
}
