package validator_test

import (
	"context"
	"net"
	"testing"

	"github.com/dhima/cronback-scheduler/internal/validator"
	"github.com/stretchr/testify/assert"
)

type fakeResolver struct {
	addrs map[string][]net.IPAddr
	err   error
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.addrs[host], nil
}

func TestValidate_RejectsUnparseable(t *testing.T) {
	v := validator.New(true)
	err := v.Validate(context.Background(), "://bad")
	assert.ErrorContains(t, err, "UnparseableUrl")
}

func TestValidate_RejectsNonHTTPScheme(t *testing.T) {
	v := validator.New(true)
	err := v.Validate(context.Background(), "ftp://example.com/file")
	assert.ErrorContains(t, err, "InvalidScheme")
}

func TestValidate_RejectsPrivateIP(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]net.IPAddr{
		"internal.example.com": {{IP: net.ParseIP("10.0.0.1")}},
	}}
	v := validator.NewWithResolver(resolver, false)

	err := v.Validate(context.Background(), "https://internal.example.com/hook")
	assert.ErrorContains(t, err, "NonRoutableIp")
}

func TestValidate_AllowsPublicIP(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]net.IPAddr{
		"example.com": {{IP: net.ParseIP("93.184.216.34")}},
	}}
	v := validator.NewWithResolver(resolver, false)

	err := v.Validate(context.Background(), "https://example.com/hook")
	assert.NoError(t, err)
}

func TestValidate_RejectsIfAnyResolvedAddressNonGlobal(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]net.IPAddr{
		"mixed.example.com": {
			{IP: net.ParseIP("93.184.216.34")},
			{IP: net.ParseIP("127.0.0.1")},
		},
	}}
	v := validator.NewWithResolver(resolver, false)

	err := v.Validate(context.Background(), "https://mixed.example.com/hook")
	assert.ErrorContains(t, err, "NonRoutableIp")
}

func TestValidate_SkipIPCheckOverride(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]net.IPAddr{
		"internal.example.com": {{IP: net.ParseIP("10.0.0.1")}},
	}}
	v := validator.NewWithResolver(resolver, true)

	err := v.Validate(context.Background(), "https://internal.example.com/hook")
	assert.NoError(t, err)
}
