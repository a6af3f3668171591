// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, endpoint, want string
	}{
		{"https://api.example.test", "users", "https://api.example.test/users"},
		{"https://api.example.test/", "/users", "https://api.example.test/users"},
		{"https://api.example.test/v1", "users/1", "https://api.example.test/v1/users/1"},
		{"https://api.example.test/v1/", "users?page=2", "https://api.example.test/v1/users?page=2"},
		{"https://api.example.test/v1?key=k", "users?page=2", "https://api.example.test/v1/users?key=k&page=2"},
		{"grpc://127.0.0.1:9000/pkg.Users", "Get", "grpc://127.0.0.1:9000/pkg.Users/Get"},
	}
	for _, tt := range tests {
		t.Run(tt.base+"+"+tt.endpoint, func(t *testing.T) {
			base, err := url.Parse(tt.base)
			require.NoError(t, err)
			got, err := resolveURL(base, tt.endpoint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestRequestInfo(t *testing.T) {
	info := Request[[]user]{Endpoint: "users", Serial: true, ResultPath: "data"}.Info()
	assert.Equal(t, GET, info.Method)
	assert.Equal(t, "[]courier.user", info.ResponseType)
	assert.Equal(t, laneSerial, info.lane())
	assert.Equal(t, laneConcurrent, Request[user]{}.Info().lane())
}
