package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecFmtpLine(t *testing.T) {
	codecs := DefaultCodecs()
	assert.Equal(t, "minptime=10;useinbandfec=1", codecs[0].FmtpLine())
	assert.Equal(t, "", codecs[1].FmtpLine())
	assert.Equal(t, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", codecs[2].FmtpLine())
}

func TestCodecFamily(t *testing.T) {
	c := Codec{MimeType: "video/H264"}
	assert.Equal(t, "H264", c.Name())
	assert.True(t, c.Is("h264"))
	assert.False(t, c.Is("VP8"))
}

func TestKindOfMimeType(t *testing.T) {
	k, ok := KindOfMimeType("audio/opus")
	require.True(t, ok)
	assert.Equal(t, Audio, k)

	k, ok = KindOfMimeType("VIDEO/vp8")
	require.True(t, ok)
	assert.Equal(t, Video, k)

	_, ok = KindOfMimeType("application/octet-stream")
	assert.False(t, ok)

	_, err := ParseMediaKind("data")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestErrorKind(t *testing.T) {
	err := E(KindClient, "start stream", ErrNoProducers)
	assert.Equal(t, KindClient, KindOf(err))
	assert.ErrorIs(t, err, ErrNoProducers)
	assert.Equal(t, "start stream: no producers", err.Error())

	// an already classified error keeps its kind
	wrapped := E(KindInternal, "outer", fmt.Errorf("ctx: %w", err))
	assert.Equal(t, KindClient, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.NoError(t, E(KindEngine, "noop", nil))
}
