package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Datum rendering
// ---------------------------------------------------------------------------
//
// Three distinct renderings, matching legacy behavior:
//   - FormatRef / formatDatum: diagnostic display (put, debuggers). Strings
//     are quoted, symbols carry #, floats honor the floatPrecision.
//   - concatString: coercion used by the & and && operators. Strings are
//     raw, Void is empty.
//   - stringValue: coercion used by string() and handlers that require a
//     string. Void renders as "VOID"; composites are a type error.

func formatFloat(f float64, precision int) string {
	if precision >= 1 && precision <= 6 {
		return strconv.FormatFloat(f, 'f', precision, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatRef renders the value behind ref as diagnostic text. It never
// mutates runtime state; unreadable handles render as an error marker.
func (p *Player) FormatRef(ref Ref) string {
	d, err := p.arena.Get(ref)
	if err != nil {
		return "<stale>"
	}
	return p.formatDatum(d)
}

func (p *Player) formatDatum(d *Datum) string {
	switch d.Kind {
	case KindVoid:
		return "Void"
	case KindInt:
		return strconv.Itoa(int(d.IntVal))
	case KindFloat:
		return formatFloat(d.FloatVal, p.movie.floatPrecision)
	case KindString:
		return "\"" + d.StrVal + "\""
	case KindSymbol:
		return "#" + d.StrVal
	case KindList:
		items := make([]string, len(d.Elems))
		for i, elem := range d.Elems {
			items[i] = p.FormatRef(elem)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case KindPropList:
		if len(d.Pairs) == 0 {
			return "[:]"
		}
		entries := make([]string, len(d.Pairs))
		for i, pair := range d.Pairs {
			entries[i] = p.FormatRef(pair.Key) + ": " + p.FormatRef(pair.Value)
		}
		return "[" + strings.Join(entries, ", ") + "]"
	case KindCastLib:
		return fmt.Sprintf("castLib(%d)", d.CastNum)
	case KindMember:
		return fmt.Sprintf("(member %d of castLib %d)", d.Member.MemberNum, d.Member.CastNum)
	case KindScript:
		if script := p.casts.scriptByRef(d.Member); script != nil {
			return fmt.Sprintf("(script %s)", script.Name)
		}
		return "(script ?)"
	case KindInstance:
		name := "?"
		if inst := p.instance(d.Instance); inst != nil {
			if script := p.casts.scriptByRef(inst.Script); script != nil {
				name = script.Name
			}
		}
		return fmt.Sprintf("<offspring %s %d _>", name, d.Instance)
	case KindTimeout:
		return fmt.Sprintf("timeout(%q)", d.StrVal)
	case KindError:
		return fmt.Sprintf("<error %s: %s>", d.ErrCode, d.StrVal)
	default:
		return "<unknown datum>"
	}
}

// concatString coerces a value for the string join operators. Void joins
// as the empty string.
func (p *Player) concatString(d *Datum) string {
	switch d.Kind {
	case KindString:
		return d.StrVal
	case KindInt:
		return strconv.Itoa(int(d.IntVal))
	case KindFloat:
		return formatFloat(d.FloatVal, p.movie.floatPrecision)
	case KindSymbol:
		return d.StrVal
	case KindVoid:
		return ""
	default:
		return p.formatDatum(d)
	}
}

// stringValue is the strict string coercion used by string() and by
// handlers that demand a string argument.
func (p *Player) stringValue(d *Datum) (string, error) {
	switch d.Kind {
	case KindString:
		return d.StrVal, nil
	case KindSymbol:
		return d.StrVal, nil
	case KindInt:
		return strconv.Itoa(int(d.IntVal)), nil
	case KindFloat:
		return formatFloat(d.FloatVal, p.movie.floatPrecision), nil
	case KindVoid:
		return "VOID", nil
	default:
		return "", Errorf(CodeTypeMismatch, "Cannot coerce %s to string", d.Kind)
	}
}

// stringValueRef is stringValue applied through a handle.
func (p *Player) stringValueRef(ref Ref) (string, error) {
	d, err := p.arena.Get(ref)
	if err != nil {
		return "", err
	}
	return p.stringValue(d)
}
