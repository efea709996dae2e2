package foreign

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phuhao00/theron/address"
)

func TestWriteFrameReadFrameRoundTrip(t *testing.T) {
	hdr := wireFrame{MailboxIndex: 7, TypeTag: 42, Sender: uint64(address.New(1, 2, 3, 4))}
	payload := []byte("hello, framework")

	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, hdr, payload))

	gotPayload, gotHdr, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, payload, gotPayload)
}

func TestReadFrameRejectsNonPositiveLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, wireFrame{}, nil))
	// Overwrite the length prefix with zero.
	frame := buf.Bytes()
	for i := 0; i < 4; i++ {
		frame[i] = 0
	}

	_, _, err := readFrame(bytes.NewReader(frame))
	assert.Error(t, err)
}

func TestServiceNameNamespacesByFrameworkIndex(t *testing.T) {
	assert.Equal(t, "theron-framework-3", serviceName(3))
	assert.NotEqual(t, serviceName(1), serviceName(2))
}

func TestTopicForNamespacesByDestinationFramework(t *testing.T) {
	to := address.New(1, 1, 9, 5)
	assert.Equal(t, "theron.undeliverable.9", topicFor(to))
}

func TestAppendU64AppendU32AreLittleEndian(t *testing.T) {
	b := appendU64(nil, 0x0102030405060708)
	require.Len(t, b, 8)
	assert.Equal(t, byte(0x08), b[0])
	assert.Equal(t, byte(0x01), b[7])

	b = appendU32(b, 0xAABBCCDD)
	require.Len(t, b, 12)
	assert.Equal(t, byte(0xDD), b[8])
	assert.Equal(t, byte(0xAA), b[11])
}
