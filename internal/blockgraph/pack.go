package blockgraph

import "github.com/lokegustafsson/ambacore/pkg/errors"

// Pack encodes a guest virtual address, translation generation, and
// internal state id into a single 64-bit integer for compact transport and
// indexing:
//
//	bits 0..47  (48 bits): guest virtual address, two's complement
//	bits 48..51 (4 bits):  generation modulo 16
//	bits 52..63 (12 bits): InternalStateId modulo 4096
//
// This is a lossy projection for packed form only; callers must retain the
// full generation in the TranslationCache and never treat the packed value
// as canonical identity.
func Pack(guestVA int64, generation uint32, stateID uint32) uint64 {
	addrBits := uint64(guestVA) & 0xFFFFFFFFFFFF
	genBits := uint64(generation&0xF) << 48
	stateBits := uint64(stateID&0xFFF) << 52
	return addrBits | genBits | stateBits
}

// Unpack decodes a value produced by Pack, sign-extending the guest virtual
// address from bit 47.
func Unpack(packed uint64) (guestVA int64, generation uint8, stateID uint16) {
	addrBits := packed & 0xFFFFFFFFFFFF
	if addrBits&(1<<47) != 0 {
		addrBits |= 0xFFFF000000000000
	}
	guestVA = int64(addrBits)
	generation = uint8((packed >> 48) & 0xF)
	stateID = uint16((packed >> 52) & 0xFFF)
	return guestVA, generation, stateID
}

// AssertRoundTrip panics via errors.Assert if packing then unpacking
// (guestVA, generation mod 16, stateID mod 4096) does not reproduce the
// same reduced values. Intended for debug builds and tests, not hot-path
// production code.
func AssertRoundTrip(guestVA int64, generation uint32, stateID uint32) {
	packed := Pack(guestVA, generation, stateID)
	gotVA, gotGen, gotState := Unpack(packed)

	wantVA := signExtend48(guestVA)
	wantGen := uint8(generation & 0xF)
	wantState := uint16(stateID & 0xFFF)

	errors.Assert(gotVA == wantVA, "pack/unpack round-trip failed for guestVA: want %#x got %#x", wantVA, gotVA)
	errors.Assert(gotGen == wantGen, "pack/unpack round-trip failed for generation: want %d got %d", wantGen, gotGen)
	errors.Assert(gotState == wantState, "pack/unpack round-trip failed for stateID: want %d got %d", wantState, gotState)
}

func signExtend48(v int64) int64 {
	bits := uint64(v) & 0xFFFFFFFFFFFF
	if bits&(1<<47) != 0 {
		bits |= 0xFFFF000000000000
	}
	return int64(bits)
}
