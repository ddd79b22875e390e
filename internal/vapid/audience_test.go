package vapid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudience(t *testing.T) {
	t.Parallel()

	cases := []struct {
		endpoint string
		want     string
	}{
		{"https://push.example.com:8443/abc/123?x=1", "https://push.example.com:8443"},
		{"https://fcm.googleapis.com/fcm/send/abc:def", "https://fcm.googleapis.com"},
		{"https://updates.push.services.mozilla.com:443/wpush/v2/x", "https://updates.push.services.mozilla.com"},
		{"http://localhost:80/push", "http://localhost"},
		{"http://127.0.0.1:9090/push#frag", "http://127.0.0.1:9090"},
		{"HTTPS://User:pw@Push.Example.COM/x", "https://push.example.com"},
		{"https://[::1]:8443/p", "https://[::1]:8443"},
	}
	for _, tc := range cases {
		t.Run(tc.endpoint, func(t *testing.T) {
			t.Parallel()
			got, err := Audience(tc.endpoint)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAudienceInvalid(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "push.example.com/abc", "ftp://push.example.com/x", "https:///nohost", "://bad"} {
		_, err := Audience(endpoint)
		assert.Error(t, err, endpoint)
	}
}
