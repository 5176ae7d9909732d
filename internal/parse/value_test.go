package parse

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFirst(t *testing.T) {
	m := map[string]any{"sn": "", "serial": "ABC", "uid": nil}
	v, ok := First(m, "device_sn", "sn", "serial")
	assert.True(t, ok)
	assert.Equal(t, "ABC", v)

	_, ok = First(m, "uid", "missing")
	assert.False(t, ok)
	assert.True(t, Has(m, "serial"))
}

func TestString(t *testing.T) {
	testCases := []struct {
		name     string
		in       any
		expected string
		ok       bool
	}{
		{"Trimmed string", "  7 ", "7", true},
		{"Blank string", "   ", "", false},
		{"Whole float", float64(7), "7", true},
		{"JSON number", json.Number("42"), "42", true},
		{"Int", 12, "12", true},
		{"Unsupported", []int{1}, "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := String(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestNumber(t *testing.T) {
	f, ok := Number(float64(15), false)
	assert.True(t, ok)
	assert.Equal(t, 15.0, f)

	_, ok = Number("15", false)
	assert.False(t, ok)

	f, ok = Number("15", true)
	assert.True(t, ok)
	assert.Equal(t, 15.0, f)
}

func TestBool(t *testing.T) {
	for _, v := range []any{true, "ok", "Success", float64(1)} {
		b, ok := Bool(v)
		assert.True(t, ok, "%v", v)
		assert.True(t, b, "%v", v)
	}
	for _, v := range []any{false, "failed", float64(0)} {
		b, ok := Bool(v)
		assert.True(t, ok, "%v", v)
		assert.False(t, b, "%v", v)
	}
	_, ok := Bool("maybe")
	assert.False(t, ok)
}

func TestTime(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	assert.NoError(t, err)

	got, ok := Time(float64(1700000000), loc)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), got.Unix())

	got, ok = Time("1700000000", loc)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), got.Unix())

	got, ok = Time("2023-11-14T22:13:20Z", loc)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), got.Unix())

	got, ok = Time("2023-11-15 06:13:20", loc)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), got.Unix(), "local layouts use loc")

	_, ok = Time("yesterday", loc)
	assert.False(t, ok)
	_, ok = Time(true, loc)
	assert.False(t, ok)
}
