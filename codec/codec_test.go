package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Key   string         `json:"key" msgpack:"key"`
	URI   string         `json:"uri" msgpack:"uri"`
	Count uint64         `json:"count" msgpack:"count"`
	Tags  map[string]int `json:"tags" msgpack:"tags"`
}

func TestRoundTrip(t *testing.T) {
	in := payload{
		Key:   "obs",
		URI:   "mem://exp/obs",
		Count: 42,
		Tags:  map[string]int{"a": 1, "b": 2},
	}

	for _, c := range []Codec{JSON{}, Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out payload
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName("msgpack")
	require.True(t, ok)
	assert.Equal(t, "msgpack", c.Name())

	_, ok = ByName("protobuf")
	assert.False(t, ok)
}
