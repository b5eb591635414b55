package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStr(t *testing.T) {
	assert.Nil(t, Str(nil))
	assert.Nil(t, Str(42))
	assert.Nil(t, Str("   "))

	got := Str("  hello ")
	require.NotNil(t, got)
	assert.Equal(t, "hello", *got)
}

func TestInt(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *int
	}{
		{"int", 7, intp(7)},
		{"float", 7.9, intp(7)},
		{"string", "42", intp(42)},
		{"grouped string", "1,234", intp(1234)},
		{"german grouped", "1.234", intp(1234)},
		{"garbage", "n/a", nil},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Int(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestFloat(t *testing.T) {
	got := Float("4.5")
	require.NotNil(t, got)
	assert.Equal(t, 4.5, *got)

	assert.Nil(t, Float("4,5 stars"))
	assert.Nil(t, Float(nil))
	assert.Nil(t, Float(true))
}

func TestBool(t *testing.T) {
	tests := []struct {
		in   any
		want *bool
	}{
		{true, boolp(true)},
		{"true", boolp(true)},
		{"No", boolp(false)},
		{float64(1), boolp(true)},
		{float64(0), boolp(false)},
		{"maybe", nil},
		{nil, nil},
	}
	for _, tt := range tests {
		got := Bool(tt.in)
		if tt.want == nil {
			assert.Nil(t, got)
			continue
		}
		require.NotNil(t, got)
		assert.Equal(t, *tt.want, *got)
	}
}

func TestPrice(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *float64
	}{
		{"numeric", 12.99, floatp(12.99)},
		{"euro comma decimal", "1.234,56 €", floatp(1234.56)},
		{"dollar dot decimal", "$1,234.56", floatp(1234.56)},
		{"bare comma decimal", "12,99", floatp(12.99)},
		{"plain", "499", floatp(499)},
		{"no digits", "N/A", nil},
		{"empty", "", nil},
		{"wrong type", []string{"x"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Price(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips query", "https://shop.example/p/123?ref=track&x=1", "https://shop.example/p/123"},
		{"strips fragment", "https://shop.example/p/123#reviews", "https://shop.example/p/123"},
		{"trims whitespace", "  https://shop.example/p/123 ", "https://shop.example/p/123"},
		{"trailing slash", "https://shop.example/p/123/", "https://shop.example/p/123"},
		{"already canonical", "https://shop.example/p/123", "https://shop.example/p/123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalURL(tt.in))
		})
	}
}

func TestCanonicalURL_TrackingVariantsCollapse(t *testing.T) {
	a := CanonicalURL("https://shop.example/p/123?utm_source=mail")
	b := CanonicalURL("https://shop.example/p/123?utm_source=ad&pos=4")
	assert.Equal(t, a, b)
	assert.Equal(t, HashKey(a), HashKey(b))
}

func TestHashKey_Deterministic(t *testing.T) {
	k := HashKey("https://shop.example/p/123")
	assert.Len(t, k, 64)
	assert.Equal(t, k, HashKey("https://shop.example/p/123"))
	assert.NotEqual(t, k, HashKey("https://shop.example/p/124"))
}

func intp(i int) *int           { return &i }
func boolp(b bool) *bool        { return &b }
func floatp(f float64) *float64 { return &f }
