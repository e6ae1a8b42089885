package blockgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPack_Unpack_RoundTrip_LowHalf(t *testing.T) {
	for _, pc := range []int64{0, 1, 0x4000, (1 << 47) - 1} {
		for _, gen := range []uint32{0, 1, 15} {
			for _, state := range []uint32{0, 1, 4095} {
				packed := Pack(pc, gen, state)
				gotVA, gotGen, gotState := Unpack(packed)
				assert.Equal(t, pc, gotVA)
				assert.EqualValues(t, gen, gotGen)
				assert.EqualValues(t, state, gotState)
			}
		}
	}
}

func TestPack_Unpack_RoundTrip_HighHalf(t *testing.T) {
	highPC := int64(-1) &^ ((1 << 47) - 1) // top bit of the 48-bit field set
	packed := Pack(highPC, 5, 10)
	gotVA, gotGen, gotState := Unpack(packed)
	assert.Equal(t, highPC, gotVA)
	assert.EqualValues(t, 5, gotGen)
	assert.EqualValues(t, 10, gotState)
}

func TestPack_GenerationWrapsModulo16(t *testing.T) {
	a := Pack(0x1000, 16, 0)
	b := Pack(0x1000, 0, 0)
	assert.Equal(t, a, b)
}

func TestPack_StateIDWrapsModulo4096(t *testing.T) {
	a := Pack(0x1000, 0, 4096)
	b := Pack(0x1000, 0, 0)
	assert.Equal(t, a, b)
}

func TestAssertRoundTrip_DoesNotPanicForValidInputs(t *testing.T) {
	assert.NotPanics(t, func() {
		AssertRoundTrip(0x4000, 1, 1)
	})
}
