package hw

import (
	"testing"
	"unsafe"
)

func TestStructSizes(t *testing.T) {
	if got := unsafe.Sizeof(Command{}); got != 64 {
		t.Errorf("Command is %d bytes, want 64", got)
	}
	if got := unsafe.Sizeof(Completion{}); got != 16 {
		t.Errorf("Completion is %d bytes, want 16", got)
	}
	if got := unsafe.Sizeof(IdentifyNamespaceData{}); got != IdentifyPageSize {
		t.Errorf("Identify page is %d bytes, want %d", got, IdentifyPageSize)
	}
}

func TestDoorbellOffsets(t *testing.T) {
	cases := []struct {
		q      uint16
		dstrd  uint8
		wantSQ uint64
		wantCQ uint64
	}{
		{0, 0, 0x1000, 0x1004},
		{1, 0, 0x1008, 0x100C},
		{2, 0, 0x1010, 0x1014},
		{0, 1, 0x1000, 0x1008},
		{1, 1, 0x1010, 0x1018},
		{3, 2, 0x1060, 0x1070},
	}
	for _, c := range cases {
		if got := SQDoorbellOffset(c.q, c.dstrd); got != c.wantSQ {
			t.Errorf("SQDoorbellOffset(%d, %d) = 0x%X, want 0x%X", c.q, c.dstrd, got, c.wantSQ)
		}
		if got := CQDoorbellOffset(c.q, c.dstrd); got != c.wantCQ {
			t.Errorf("CQDoorbellOffset(%d, %d) = 0x%X, want 0x%X", c.q, c.dstrd, got, c.wantCQ)
		}
	}
}

func TestCompletionStatusEncoding(t *testing.T) {
	var e Completion

	e.SetStatus(StatusSuccess, true)
	if !e.Phase() || e.StatusCode() != StatusSuccess || !e.Ok() {
		t.Errorf("Success with phase 1 encoded as 0x%04x", e.Status)
	}

	e.SetStatus(StatusLBAOutOfRange, false)
	if e.Phase() {
		t.Error("Phase bit should be clear")
	}
	if e.StatusCode() != StatusLBAOutOfRange {
		t.Errorf("StatusCode = 0x%02x, want 0x%02x", e.StatusCode(), StatusLBAOutOfRange)
	}
	if e.Ok() {
		t.Error("Non-success status must not report Ok")
	}
}

func TestCommandLBAEncoding(t *testing.T) {
	var cmd Command

	lba := uint64(0x1234_5678_9ABC_DEF0)
	cmd.SetLBA(lba)
	if cmd.CDW10 != 0x9ABC_DEF0 || cmd.CDW11 != 0x1234_5678 {
		t.Errorf("LBA split wrong: CDW10=0x%08x CDW11=0x%08x", cmd.CDW10, cmd.CDW11)
	}
	if cmd.LBA() != lba {
		t.Errorf("LBA round trip = 0x%X, want 0x%X", cmd.LBA(), lba)
	}
}

func TestCommandBlockCountZeroBased(t *testing.T) {
	var cmd Command

	cmd.SetBlockCount(1)
	if cmd.CDW12&0xFFFF != 0 {
		t.Errorf("1 block must encode as 0, got %d", cmd.CDW12&0xFFFF)
	}
	if cmd.BlockCount() != 1 {
		t.Errorf("BlockCount = %d, want 1", cmd.BlockCount())
	}

	cmd.SetBlockCount(256)
	if cmd.BlockCount() != 256 {
		t.Errorf("BlockCount = %d, want 256", cmd.BlockCount())
	}
}

func TestCapFieldExtraction(t *testing.T) {
	// MQES=1023, TO=30 (15s), DSTRD=2
	cap := uint64(1023) | uint64(30)<<24 | uint64(2)<<32

	if got := CapMQES(cap); got != 1023 {
		t.Errorf("CapMQES = %d, want 1023", got)
	}
	if got := CapTO(cap); got != 30 {
		t.Errorf("CapTO = %d, want 30", got)
	}
	if got := CapDSTRD(cap); got != 2 {
		t.Errorf("CapDSTRD = %d, want 2", got)
	}
}

func TestRegistersRoundTrip(t *testing.T) {
	window := make([]byte, DoorbellBase+0x100)
	regs, err := NewRegisters(window)
	if err != nil {
		t.Fatalf("NewRegisters failed: %v", err)
	}

	regs.Write32(RegCC, CCEnable|CCIOSQES|CCIOCQES)
	if got := regs.Read32(RegCC); got != CCEnable|CCIOSQES|CCIOCQES {
		t.Errorf("CC read back 0x%08x", got)
	}

	regs.Write64(RegASQ, 0xDEAD_BEEF_0000_1000)
	if got := regs.Read64(RegASQ); got != 0xDEAD_BEEF_0000_1000 {
		t.Errorf("ASQ read back 0x%016x", got)
	}
}

func TestRegistersTooSmall(t *testing.T) {
	if _, err := NewRegisters(make([]byte, 64)); err == nil {
		t.Error("NewRegisters should reject an undersized window")
	}
}

func TestRegisterDoorbellWrites(t *testing.T) {
	window := make([]byte, DoorbellBase+0x100)
	regs, err := NewRegisters(window)
	if err != nil {
		t.Fatalf("NewRegisters failed: %v", err)
	}

	// CAP.DSTRD = 0
	regs.SQDoorbell(1).Ring(42)
	if got := regs.Read32(SQDoorbellOffset(1, 0)); got != 42 {
		t.Errorf("SQ doorbell read back %d, want 42", got)
	}

	regs.CQDoorbell(1).Ring(7)
	if got := regs.Read32(CQDoorbellOffset(1, 0)); got != 7 {
		t.Errorf("CQ doorbell read back %d, want 7", got)
	}
}

func TestIdentifyNamespaceFromBytes(t *testing.T) {
	buf := make([]byte, IdentifyPageSize)
	data, err := IdentifyNamespaceFromBytes(buf)
	if err != nil {
		t.Fatalf("IdentifyNamespaceFromBytes failed: %v", err)
	}

	// The view aliases the buffer.
	data.NSZE = 12345
	data.LBASize = 4096
	reparsed, err := IdentifyNamespaceFromBytes(buf)
	if err != nil {
		t.Fatalf("Reparse failed: %v", err)
	}
	if reparsed.NSZE != 12345 || reparsed.LBASize != 4096 {
		t.Errorf("Identify view does not alias the page buffer")
	}

	if _, err := IdentifyNamespaceFromBytes(make([]byte, 100)); err == nil {
		t.Error("Short identify buffer should be rejected")
	}
}
