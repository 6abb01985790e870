package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBrazilianNumbers(t *testing.T) {
	n := NewNormalizer("BR")

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "international with plus", in: "+55 11 99999-0000", want: "5511999990000"},
		{name: "international compact", in: "+5511999990000", want: "5511999990000"},
		{name: "national formatted", in: "(11) 99999-0000", want: "5511999990000"},
		{name: "trunk prefix dropped", in: "011999990000", want: "5511999990000"},
		{name: "double zero international", in: "005511999990000", want: "5511999990000"},
		{name: "long digits without plus left alone", in: "5511999990000", want: "5511999990000"},
		{name: "empty", in: "", want: ""},
		{name: "no digits", in: "n/a", want: ""},
		{name: "only trunk digit", in: "0", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, n.Key(tc.in))
		})
	}
}

func TestKeyShortNationalNumber(t *testing.T) {
	n := NewNormalizer("BR")
	assert.Equal(t, "551199999", n.Key("01199999"))
}

func TestSuffixAlignsDifferentPrefixing(t *testing.T) {
	n := NewNormalizer("BR")

	withCountry := n.Key("+5511999990000")
	stored := "11999990000"

	assert.Equal(t, Suffix(stored, 9), Suffix(withCountry, 9))
	assert.Equal(t, "999990000", Suffix(withCountry, 9))
}

func TestSuffixShortKey(t *testing.T) {
	assert.Equal(t, "1234", Suffix("1234", 9))
	assert.Equal(t, "1234", Suffix("1234", 0))
}

func TestNewNormalizerDefaultsRegion(t *testing.T) {
	n := NewNormalizer("  ")
	assert.Equal(t, DefaultRegion, n.Region())
}

func TestDisplayE164(t *testing.T) {
	n := NewNormalizer("BR")
	assert.Equal(t, "+5511999990000", n.DisplayE164("(11) 99999-0000"))
	assert.Equal(t, "not a phone", n.DisplayE164(" not a phone "))
}
