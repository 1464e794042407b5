package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyHMACSignature(t *testing.T) {
	body := []byte(`{"Type":"Notification"}`)
	secret := "shared-secret"
	signed := Sign(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{name: "prefixed signature", body: body, signature: signed, secret: secret},
		{name: "bare hex signature", body: body, signature: signed[len("sha256="):], secret: secret},
		{name: "wrong secret", body: body, signature: signed, secret: "other", wantErr: true},
		{name: "tampered body", body: []byte(`{"Type":"Other"}`), signature: signed, secret: secret, wantErr: true},
		{name: "missing signature", body: body, signature: "", secret: secret, wantErr: true},
		{name: "missing secret", body: body, signature: signed, secret: "", wantErr: true},
		{name: "not hex", body: body, signature: "sha256=zzzz", secret: secret, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyHMACSignature(tt.body, tt.signature, tt.secret)
			if tt.wantErr {
				assert.EqualError(t, err, "webhook verification failed")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSignIsStable(t *testing.T) {
	assert.Equal(t, Sign([]byte("x"), "k"), Sign([]byte("x"), "k"))
	assert.NotEqual(t, Sign([]byte("x"), "k"), Sign([]byte("x"), "j"))
}
