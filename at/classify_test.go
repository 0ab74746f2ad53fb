// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package at

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	patterns := []struct {
		name string
		line string
		cmd  string
		kind lineKind
		err  error
	}{
		{"blank", "", "AT", lineBlank, nil},
		{"ok", "OK", "AT", lineFinal, nil},
		{"error", "ERROR", "AT", lineFinal, ErrError},
		{"cme", "+CME ERROR: 514", "AT+CGATT=1", lineFinal, CMEError("514")},
		{"cms", "+CMS ERROR:302", "AT+CMGS", lineFinal, CMSError("302")},
		{"echo", "AT+CFUN?", "AT+CFUN?", lineEcho, nil},
		{"echo case", "at+cfun?", "AT+CFUN?", lineEcho, nil},
		{"info", "+CFUN: 1", "AT+CFUN?", lineInfo, nil},
		{"bare info", "mfw_nrf9160_1.3.4", "AT+CGMR", lineInfo, nil},
		{"ok prefix", "OKAY", "AT", lineInfo, nil},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			kind, err := classify(p.line, p.cmd)
			assert.Equal(t, p.kind, kind)
			assert.Equal(t, p.err, err)
		}
		t.Run(p.name, f)
	}
}

func TestInsertIndication(t *testing.T) {
	var inds []indication
	for _, prefix := range []string{"$G", "#XGPS:", "$GPGGA", "+C"} {
		inds = insertIndication(inds, newIndication(prefix, nil))
	}
	prefixes := make([]string, len(inds))
	for i, ind := range inds {
		prefixes[i] = ind.prefix
	}
	assert.Equal(t, []string{"#XGPS:", "$GPGGA", "$G", "+C"}, prefixes)

	ind, ok := matchIndication(inds, "$GPGGA,1")
	assert.True(t, ok)
	assert.Equal(t, "$GPGGA", ind.prefix)
	_, ok = matchIndication(inds, "OK")
	assert.False(t, ok)
}
