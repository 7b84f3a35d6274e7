package frame

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestOuterRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		port := rng.Uint32()
		payload := make([]byte, rng.Intn(1024))
		rng.Read(payload)

		wire := EncodeOuter(port, payload)
		if len(wire) != OuterHeaderSize+len(payload) {
			t.Fatalf("unexpected wire length: %d", len(wire))
		}
		hdr, err := DecodeOuterHeader(wire[:OuterHeaderSize])
		if err != nil {
			t.Fatalf("DecodeOuterHeader: %v", err)
		}
		if hdr.Port != port {
			t.Fatalf("port mismatch: got %d want %d", hdr.Port, port)
		}
		if int(hdr.DataSize) != len(payload) {
			t.Fatalf("data size mismatch: got %d want %d", hdr.DataSize, len(payload))
		}
		got := wire[OuterHeaderSize:]
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch")
		}
		if !hdr.VerifyChecksum(got) {
			t.Fatalf("checksum verification failed on valid frame")
		}
	}
}

func TestOuterChecksumRejectsBitFlip(t *testing.T) {
	payload := []byte("hello, aos")
	wire := EncodeOuter(42, payload)
	hdr, err := DecodeOuterHeader(wire[:OuterHeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), wire[OuterHeaderSize:]...)
	tampered[0] ^= 0x01
	if hdr.VerifyChecksum(tampered) {
		t.Fatalf("expected checksum mismatch after bit flip")
	}
	// next frame on the same "wire" must still decode fine.
	wire2 := EncodeOuter(43, []byte("next frame"))
	hdr2, err := DecodeOuterHeader(wire2[:OuterHeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if !hdr2.VerifyChecksum(wire2[OuterHeaderSize:]) {
		t.Fatalf("subsequent frame should still verify")
	}
}

func TestInnerRoundTrip(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	wire, err := EncodeInner("iamanager.v5.IAMPublicNodesService/RegisterNode", payload)
	if err != nil {
		t.Fatal(err)
	}
	hdr, err := DecodeInnerHeader(wire[:InnerHeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Method != "iamanager.v5.IAMPublicNodesService/RegisterNode" {
		t.Fatalf("method mismatch: %q", hdr.Method)
	}
	if int(hdr.DataSize) != len(payload) {
		t.Fatalf("size mismatch")
	}
	if !bytes.Equal(wire[InnerHeaderSize:], payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestInnerEmptyMethod(t *testing.T) {
	wire, err := EncodeInner("", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	hdr, err := DecodeInnerHeader(wire[:InnerHeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Method != "" {
		t.Fatalf("expected empty method, got %q", hdr.Method)
	}
}

func TestInnerMethodTooLong(t *testing.T) {
	long := bytes.Repeat([]byte("a"), 257)
	if _, err := EncodeInner(string(long), nil); err == nil {
		t.Fatalf("expected error for oversize method name")
	}
}
