package crosscheck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeySet(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestU_DefaultKeySet_Check(t *testing.T) {
	assert.Empty(t, DefaultKeySet().Check())
}

func TestU_KeySet_PublicArgs(t *testing.T) {
	ks := DefaultKeySet()

	dsa, err := ks.dsaPublicArgs()
	require.NoError(t, err)
	require.Len(t, dsa, 4)
	assert.Equal(t, "e1d3391245933d68a0714ed34bbcb7a1f422b9c1", dsa[1])

	ec, err := ks.ecdsaPublicArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{ks.ECDSA.X, ks.ECDSA.Y}, ec)

	rsa, err := ks.rsaPublicArgs()
	require.NoError(t, err)
	assert.Equal(t, "10001", rsa[1])
}

func TestU_KeySet_CheckFindings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*KeySet)
		want   string
	}{
		{"dsa public value", func(ks *KeySet) { ks.DSA.Y = "02" }, "Y is not G^X mod P"},
		{"rsa modulus", func(ks *KeySet) { ks.RSA.N = "0f" }, "N is not P*Q"},
		{"wiener", func(ks *KeySet) { ks.RSA.D = "03" }, "Wiener"},
		{"unparsable", func(ks *KeySet) { ks.RSA.P = "zz" }, "hex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks := DefaultKeySet()
			tt.mutate(ks)
			findings := ks.Check()
			require.Len(t, findings, 1)
			assert.Equal(t, "keys", findings[0].Battery)
			assert.Contains(t, findings[0].Detail, tt.want)
		})
	}
}

func TestU_LoadKeySet_Defaults(t *testing.T) {
	ks, err := LoadKeySet("")
	require.NoError(t, err)
	assert.Equal(t, DefaultKeySet(), ks)
}

func TestU_LoadKeySet_PartialOverride(t *testing.T) {
	path := writeKeySet(t, `
ecdsa:
  x: "6b17d1f2e12c4247f8bce6e563a440f277037d812deb33a0f4a13945d898c296"
  y: "4fe342e2fe1a7f9b8ee7eb4a7c0f9e162bce33576b315ececbb6406837bf51f5"
  d: "01"
`)
	ks, err := LoadKeySet(path)
	require.NoError(t, err)

	assert.Equal(t, "01", ks.ECDSA.D)
	assert.Equal(t, DefaultKeySet().DSA, ks.DSA)
	assert.Equal(t, DefaultKeySet().RSA, ks.RSA)
}

func TestU_LoadKeySet_Errors(t *testing.T) {
	_, err := LoadKeySet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadKeySet(writeKeySet(t, "dsa: [unclosed"))
	assert.Error(t, err)

	_, err = LoadKeySet(writeKeySet(t, "rsa:\n  p: \"01\"\n  q: \"0b\"\n  e: \"03\"\n  d: \"07\"\n"))
	assert.ErrorContains(t, err, "invalid rsa key")

	_, err = LoadKeySet(writeKeySet(t, "ecdsa:\n  x: \"nothex\"\n  y: \"01\"\n"))
	assert.ErrorContains(t, err, "invalid ecdsa key")
}

func TestU_KeySet_CheckFamily(t *testing.T) {
	ks := DefaultKeySet()
	ks.RSA.D = "03"

	assert.Len(t, ks.CheckFamily("oaep"), 1)
	assert.Len(t, ks.CheckFamily("rsasign"), 1)
	assert.Empty(t, ks.CheckFamily("dsa"))
	assert.Empty(t, ks.CheckFamily("hash"))
}
