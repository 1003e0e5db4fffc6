package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSubject(t *testing.T) {
	cases := map[string]string{
		"Re: Re: Fwd: Hello":          "Hello",
		"  RE:fw: Trip   ":            "Trip",
		"[divers] Re: Dive plan":      "Dive plan",
		"Re: [divers] AW: WG: Plan":   "Plan",
		"Antw: SV: VB: TR: RV: VS: X": "X",
		"Reply needed":                "Reply needed",
		"Re:":                         "",
		"":                            "",
		"[unclosed Re: x":             "[unclosed Re: x",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeSubject(in), in)
	}
}

func TestNormalizeSubjectIsFixedPoint(t *testing.T) {
	inputs := []string{
		"Re: Re: Fwd: Hello",
		"[a] [b] re: [c] fw: body",
		"Fwd:   Re:  ",
		strings.Repeat("é", 499) + " Re: tail",
		"Re: " + strings.Repeat("x", 600),
		"Re: " + strings.Repeat("a", 499) + "   b",
	}
	for _, s := range inputs {
		once := NormalizeSubject(s)
		assert.Equal(t, once, NormalizeSubject(once), s)
		assert.LessOrEqual(t, len([]rune(once)), MaxSubjectLen)
	}
}
