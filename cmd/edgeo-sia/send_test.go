package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/sia/sia"
)

func resetSendFlags() {
	sendID, sendCode, sendZone, sendMessage = sia.IDSIA, "RP", "1", ""
	sendQualifier, sendPartition, sendData = "1", "01", ""
}

func TestBuildData(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
		want  string
	}{
		{"sia", func() { sendCode, sendZone = "ba", "3" }, "Nri3/BA"},
		{"sia with text", func() { sendCode, sendMessage = "FA", "501" }, "Nri1/FA501"},
		{"contact id", func() { sendID, sendCode, sendZone = sia.IDContactID, "110", "7" }, "1110 01 007"},
		{"restore", func() { sendID, sendQualifier, sendCode = sia.IDContactID, "3", "401" }, "3401 01 001"},
		{"keep-alive", func() { sendID = sia.IDNull }, ""},
		{"raw", func() { sendData = "#1234|Nri1/XX" }, "#1234|Nri1/XX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetSendFlags()
			tt.setup()
			got, err := buildData()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildData_Invalid(t *testing.T) {
	resetSendFlags()
	sendCode = "BAD"
	_, err := buildData()
	assert.Error(t, err)

	resetSendFlags()
	sendID, sendCode = sia.IDContactID, "x1"
	_, err = buildData()
	assert.Error(t, err)

	resetSendFlags()
	sendID = "FOO"
	_, err = buildData()
	assert.Error(t, err)
}

func TestAccountsFromFlags(t *testing.T) {
	got := accountsFromFlags([]string{"1234", "AAA:0123456789abcdef"})
	require.Len(t, got, 2)
	assert.Equal(t, map[string]interface{}{"id": "1234", "key": ""}, got[0])
	assert.Equal(t, map[string]interface{}{"id": "AAA", "key": "0123456789abcdef"}, got[1])
}
