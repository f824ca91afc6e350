package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type staticTokens struct{}

func (staticTokens) Renew(context.Context) (string, time.Time, error) {
	return "token", time.Now().Add(time.Hour), nil
}

func TestTarget_Kind(t *testing.T) {
	local := NewLocalServerTarget("bcserver", nil)
	assert.Equal(t, TargetLocalServer, local.Kind())

	cloud := NewCloudTenantTarget("https://api.example.com/", "tenant", "sandbox", staticTokens{})
	assert.Equal(t, TargetCloudTenant, cloud.Kind())
	assert.Equal(t, "https://api.example.com", cloud.Cloud.BaseURL)

	both := Target{Local: local.Local, Cloud: cloud.Cloud}
	assert.Equal(t, TargetCloudTenant, both.Kind())
}

func TestTarget_Validate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr bool
	}{
		{"empty", Target{}, true},
		{"local", NewLocalServerTarget("bcserver", nil), false},
		{"local without name", NewLocalServerTarget("", nil), true},
		{"cloud", NewCloudTenantTarget("https://api.example.com", "t", "prod", staticTokens{}), false},
		{"cloud without tokens", NewCloudTenantTarget("https://api.example.com", "t", "prod", nil), true},
		{"cloud without url", NewCloudTenantTarget("", "t", "prod", staticTokens{}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsupportedTarget))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
