package swimwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUUID(b byte) [UUIDSize]byte {
	var u [UUIDSize]byte
	for i := range u {
		u[i] = b
	}
	return u
}

func samplePacket() *Packet {
	return &Packet{
		Meta: Meta{
			Version: ProtocolVersion,
			SrcAddr: 0x7F000001,
			SrcPort: 3301,
		},
		SrcUUID: sampleUUID(0xAA),
		FD: &FailureDetection{
			Type:       FDPing,
			Generation: 42,
			Version:    7,
		},
		Dissemination: []MemberRecord{
			{
				Status:     StatusAlive,
				Address:    0x7F000002,
				Port:       3302,
				UUID:       sampleUUID(0xBB),
				Generation: 1,
				Version:    3,
				Payload:    []byte("hello"),
			},
		},
		AntiEntropy: []MemberRecord{
			{
				Status:     StatusSuspected,
				Address:    0x7F000003,
				Port:       3303,
				UUID:       sampleUUID(0xCC),
				Generation: 2,
				Version:    1,
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	pkt := samplePacket()
	data, err := Encode(pkt)
	require.NoError(t, err)
	require.LessOrEqual(t, len(data), MaxPacketSize)

	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, pkt.Meta.Version, got.Meta.Version)
	assert.Equal(t, pkt.Meta.SrcAddr, got.Meta.SrcAddr)
	assert.Equal(t, pkt.Meta.SrcPort, got.Meta.SrcPort)
	assert.Equal(t, pkt.SrcUUID, got.SrcUUID)
	require.NotNil(t, got.FD)
	assert.Equal(t, *pkt.FD, *got.FD)
	require.Len(t, got.Dissemination, 1)
	assert.Equal(t, pkt.Dissemination[0], got.Dissemination[0])
	require.Len(t, got.AntiEntropy, 1)
	assert.Equal(t, pkt.AntiEntropy[0], got.AntiEntropy[0])
}

func TestRoundTripWithRouteAndQuit(t *testing.T) {
	pkt := samplePacket()
	pkt.Meta.Route = &Route{
		SrcAddr: 0x7F000004,
		SrcPort: 4001,
		DstAddr: 0x7F000005,
		DstPort: 4002,
	}
	pkt.Quit = &Quit{Generation: 9, Version: 2}
	pkt.FD = nil
	pkt.Dissemination = nil
	pkt.AntiEntropy = nil

	data, err := Encode(pkt)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, got.Meta.Route)
	assert.Equal(t, *pkt.Meta.Route, *got.Meta.Route)
	require.NotNil(t, got.Quit)
	assert.Equal(t, *pkt.Quit, *got.Quit)
	assert.Nil(t, got.FD)
	assert.Empty(t, got.Dissemination)
	assert.Empty(t, got.AntiEntropy)
}

func TestRoundTripMinimal(t *testing.T) {
	pkt := &Packet{
		Meta: Meta{
			Version: ProtocolVersion,
			SrcAddr: 1,
			SrcPort: 1,
		},
		SrcUUID: sampleUUID(1),
	}
	data, err := Encode(pkt)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, pkt.SrcUUID, got.SrcUUID)
	assert.Nil(t, got.FD)
	assert.Nil(t, got.Meta.Route)
	assert.Nil(t, got.Quit)
}

func TestDecodeTruncatedBody(t *testing.T) {
	pkt := samplePacket()
	data, err := Encode(pkt)
	require.NoError(t, err)

	// Corrupt the stream so it no longer decodes cleanly: truncate past
	// the meta section into the middle of the body map.
	truncated := data[:len(data)-2]
	_, err = Decode(truncated)
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestDecodeGarbageBytes(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestDecodeEmptyInput(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestEncodeBudgetedDropsAntiEntropyFirst(t *testing.T) {
	pkt := samplePacket()
	// A budget that fits meta+body without AE/dissem member arrays but
	// not with both populated.
	full, err := Encode(pkt)
	require.NoError(t, err)

	budget := len(full) - 1
	out, err := EncodeBudgeted(pkt, budget)
	require.NoError(t, err)

	got, err := Decode(out)
	require.NoError(t, err)
	assert.Empty(t, got.AntiEntropy, "anti-entropy should be dropped first under budget pressure")
	assert.NotNil(t, got.FD, "FD should survive while AE is being dropped")
}

func TestEncodeBudgetedDropsFDLast(t *testing.T) {
	pkt := samplePacket()
	pkt.Dissemination = nil
	pkt.AntiEntropy = nil

	full, err := Encode(pkt)
	require.NoError(t, err)

	out, err := EncodeBudgeted(pkt, len(full)-1)
	require.NoError(t, err)

	got, err := Decode(out)
	require.NoError(t, err)
	assert.Nil(t, got.FD)
	assert.Equal(t, pkt.SrcUUID, got.SrcUUID, "quit/uuid never dropped")
}

func TestEncodeBudgetedNeverDropsUUID(t *testing.T) {
	pkt := samplePacket()
	out, err := EncodeBudgeted(pkt, 1)
	require.NoError(t, err)
	got, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, pkt.SrcUUID, got.SrcUUID)
	assert.Nil(t, got.FD)
	assert.Empty(t, got.Dissemination)
	assert.Empty(t, got.AntiEntropy)
}

func TestMemberStatusString(t *testing.T) {
	assert.Equal(t, "alive", StatusAlive.String())
	assert.Equal(t, "suspected", StatusSuspected.String())
	assert.Equal(t, "dead", StatusDead.String())
	assert.Equal(t, "left", StatusLeft.String())
}
