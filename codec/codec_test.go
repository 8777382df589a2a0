package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateRecord struct {
	Body  string   `json:"body"`
	Slots []string `json:"slots"`
}

func TestCodecs_Compatible(t *testing.T) {
	rec := map[string]stateRecord{
		"count": {Body: `{"@qclass":"bigint","digits":"3"}`},
		"owner": {Body: `{"@qclass":"slot","index":0}`, Slots: []string{"o-4"}},
	}

	a, err := JSON{}.Marshal(rec)
	require.NoError(t, err)
	b, err := GoJSON{}.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	var out map[string]stateRecord
	require.NoError(t, GoJSON{}.Unmarshal(a, &out))
	assert.Equal(t, rec, out)
	require.NoError(t, JSON{}.Unmarshal(b, &out))
	assert.Equal(t, rec, out)
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "go-json"} {
		c, ok := ByName(name)
		require.True(t, ok)
		assert.Equal(t, name, c.Name())
	}
	_, ok := ByName("msgpack")
	assert.False(t, ok)
	assert.Equal(t, "go-json", Default.Name())
}

func TestMustMarshal(t *testing.T) {
	assert.Equal(t, `[1,2]`, string(MustMarshal(nil, []int{1, 2})))
	assert.Panics(t, func() { MustMarshal(JSON{}, make(chan int)) })
}
