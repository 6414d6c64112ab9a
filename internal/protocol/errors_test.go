package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrRankConflict,
		ErrRankOutOfRange,
		ErrWorldSizeMismatch,
		ErrRunMismatch,
		ErrBadRequest,
		ErrCanceled,
		ErrInternal,
	}
	for _, c := range cases {
		assert.True(t, IsKnownCode(c), "expected known code: %q", c)
	}
	assert.False(t, IsKnownCode("E_NOT_DEFINED"))
}

func TestRemoteError(t *testing.T) {
	assert.Equal(t, "E_RANK_CONFLICT: rank 2 already joined", (&RemoteError{Code: ErrRankConflict, Message: "rank 2 already joined"}).Error())
	assert.Equal(t, "E_INTERNAL", (&RemoteError{Code: ErrInternal}).Error())
}

func TestDecodeBase(t *testing.T) {
	b, err := DecodeBase([]byte(`{"type":"REDUCE","protocol_version":"1.0","rank":1}`))
	assert.NoError(t, err)
	assert.Equal(t, BaseMessage{Type: TypeReduce, ProtocolVersion: Version}, b)

	_, err = DecodeBase([]byte(`not json`))
	assert.Error(t, err)
}
