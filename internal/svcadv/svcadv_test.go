package svcadv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureBitsTXTHex(t *testing.T) {
	f := FeatureBits(0x0000000100001000)
	require.Equal(t, "0x1000,0x1", f.TXTHex())
}

func TestSplitServiceNameBareType(t *testing.T) {
	svcType, instance := splitServiceName("_dmx._tcp")
	require.Equal(t, "_dmx._tcp", svcType)
	require.Equal(t, "", instance)
}

func TestSplitServiceNameWithInstance(t *testing.T) {
	svcType, instance := splitServiceName("Stage Left._dmx._tcp")
	require.Equal(t, "_dmx._tcp", svcType)
	require.Equal(t, "Stage Left", instance)
}

func TestQualifyServiceTypeAppendsLocalDomain(t *testing.T) {
	require.Equal(t, "_dmx._tcp.local.", qualifyServiceType("_dmx._tcp"))
	require.Equal(t, "_dmx._tcp.local.", qualifyServiceType("_dmx._tcp.local."))
}

func TestDefaultServiceNameIncludesReceiverName(t *testing.T) {
	// defaultServiceName always succeeds on a real host; this just
	// asserts it includes the receiver name as a prefix, which holds
	// whether or not os.Hostname() resolves.
	name := defaultServiceName("aircast")
	require.Contains(t, name, "aircast")
}
