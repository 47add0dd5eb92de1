package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"a", "a"},
		{"/a/b/", "a/b"},
		{"//a//", "a"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePath(tt.in), "in=%q", tt.in)
	}
}

func TestJoinPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "secret/data/a/b", JoinPath("secret", "data", "a/b"))
	assert.Equal(t, "secret/metadata", JoinPath("secret/", "/metadata", ""))
	assert.Equal(t, "", JoinPath())
}

func TestValidateSecretPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		path      string
		allowRoot bool
		wantErr   bool
	}{
		{name: "simple", path: "a", wantErr: false},
		{name: "nested", path: "team/db/primary", wantErr: false},
		{name: "dots inside names", path: "v1.2/app.config", wantErr: false},
		{name: "root allowed", path: "", allowRoot: true, wantErr: false},
		{name: "root rejected", path: "", wantErr: true},
		{name: "empty segment", path: "a//b", wantErr: true},
		{name: "dot segment", path: "a/./b", wantErr: true},
		{name: "dotdot segment", path: "../etc", wantErr: true},
		{name: "query", path: "a?b", wantErr: true},
		{name: "fragment", path: "a#b", wantErr: true},
		{name: "nul", path: "a\x00b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateSecretPath("kv.get", tt.path, tt.allowRoot)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				assert.Equal(t, "path", err.(*Error).Path)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateName("op", "name", "orders-key_1"))
	assert.ErrorIs(t, ValidateName("op", "name", ""), ErrValidation)
	assert.ErrorIs(t, ValidateName("op", "name", "a/b"), ErrValidation)
	assert.ErrorIs(t, ValidateName("op", "name", ".."), ErrValidation)
	assert.ErrorIs(t, ValidateName("op", "name", "a?b"), ErrValidation)
}
