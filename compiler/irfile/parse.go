package irfile

import (
	"strings"

	"tlog.app/go/errors"

	"github.com/brisklang/brisk/compiler/tp"
)

// ParseType reads the textual type syntax used in fixtures.
//
//	int bool bit i64 f64 none void any
//	obj Point
//	seq int
//	obj A | obj B | none
//	obj A?            sugar for obj A | none
func ParseType(s string) (tp.Type, error) {
	s = strings.TrimSpace(s)

	if alts := strings.Split(s, "|"); len(alts) > 1 {
		u := tp.Union{}

		for _, a := range alts {
			t, err := ParseType(a)
			if err != nil {
				return nil, err
			}

			u.Alts = append(u.Alts, t)
		}

		return u, nil
	}

	if t, ok := strings.CutSuffix(s, "?"); ok {
		x, err := ParseType(t)
		if err != nil {
			return nil, err
		}

		return tp.Optional(x), nil
	}

	switch s {
	case "int":
		return tp.Int, nil
	case "bool", "bit":
		return tp.Bool, nil
	case "i64":
		return tp.I64, nil
	case "f64":
		return tp.F64, nil
	case "none":
		return tp.None{}, nil
	case "void":
		return tp.Void{}, nil
	case "any":
		return tp.Any{}, nil
	}

	if c, ok := strings.CutPrefix(s, "obj "); ok {
		return tp.Object{Class: strings.TrimSpace(c)}, nil
	}

	if e, ok := strings.CutPrefix(s, "seq "); ok {
		el, err := ParseType(e)
		if err != nil {
			return nil, err
		}

		return tp.Seq{Elem: el}, nil
	}

	return nil, errors.New("bad type: %q", s)
}
