package transfer

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignatureMatches(t *testing.T) {
	sum := md5.Sum([]byte("payload"))
	hexSum := hex.EncodeToString(sum[:])
	b64Sum := base64.StdEncoding.EncodeToString(sum[:])

	tests := []struct {
		name     string
		expected string
		want     bool
	}{
		{"exact hex", hexSum, true},
		{"exact base64", b64Sum, true},
		{"base64 prefix", b64Sum[:8], true},
		{"hex truncation", hexSum[:12], true},
		{"mismatch", "deadbeef", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SignatureMatches(sum[:], tt.expected))
		})
	}
}
