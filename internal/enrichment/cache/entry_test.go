package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry(t *testing.T) {
	data := []byte(`{"DadosBasicos":{"nome":"MARIA"}}`)

	t.Run("round trip keeps bytes exactly", func(t *testing.T) {
		raw, err := NewEntry(data).Encode()
		require.NoError(t, err)

		got, ok := Decode(raw)
		require.True(t, ok)
		assert.Equal(t, data, got)
	})

	t.Run("checksum is hex sha256", func(t *testing.T) {
		assert.Equal(t,
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			Checksum(nil))
		assert.Len(t, NewEntry(data).Checksum, 64)
	})

	t.Run("every single byte flip in data is detected", func(t *testing.T) {
		e := NewEntry(data)
		for i := range len(e.Data) {
			tampered := []byte(e.Data)
			tampered[i] ^= 0x01
			bad := Entry{Data: string(tampered), Checksum: e.Checksum}
			raw, err := bad.Encode()
			require.NoError(t, err)

			_, ok := Decode(raw)
			assert.False(t, ok, "byte %d", i)
		}
	})

	t.Run("tampered checksum is detected", func(t *testing.T) {
		e := NewEntry(data)
		e.Checksum = "0" + e.Checksum[1:]
		if e.Checksum == NewEntry(data).Checksum {
			e.Checksum = "1" + e.Checksum[1:]
		}
		assert.False(t, e.Valid())
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, ok := Decode([]byte("not json"))
		assert.False(t, ok)
		_, ok = Decode([]byte(`{"data":"x"}`))
		assert.False(t, ok)
	})
}
