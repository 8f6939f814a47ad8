package vm

import "strconv"

// ---------------------------------------------------------------------------
// Literal parsing
// ---------------------------------------------------------------------------

// ParseValue parses a literal expression the way value() does: integers,
// floats, quoted strings, symbols, lists and property lists, nested to
// any depth. Anything else answers Void rather than an error. The result
// handle is owned by the caller.
func (p *Player) ParseValue(src string) (Ref, error) {
	vp := &valueParser{src: src, player: p}
	vp.skipSpace()
	ref, ok, err := vp.parseExpr()
	if err != nil {
		return VoidRef, err
	}
	if !ok {
		return VoidRef, nil
	}
	vp.skipSpace()
	if vp.pos != len(vp.src) {
		p.arena.Release(ref)
		return VoidRef, nil
	}
	return ref, nil
}

type valueParser struct {
	src    string
	pos    int
	player *Player
}

func (vp *valueParser) peek() byte {
	if vp.pos >= len(vp.src) {
		return 0
	}
	return vp.src[vp.pos]
}

func (vp *valueParser) skipSpace() {
	for vp.pos < len(vp.src) {
		switch vp.src[vp.pos] {
		case ' ', '\t', '\r', '\n':
			vp.pos++
		default:
			return
		}
	}
}

func (vp *valueParser) parseExpr() (Ref, bool, error) {
	switch c := vp.peek(); {
	case c == '[':
		return vp.parseBracket()
	case c == '"':
		return vp.parseString()
	case c == '#':
		return vp.parseSymbol()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return vp.parseNumber()
	default:
		return VoidRef, false, nil
	}
}

// parseString scans a quoted run. Script strings carry no escapes; the
// first closing quote ends the literal.
func (vp *valueParser) parseString() (Ref, bool, error) {
	start := vp.pos + 1
	for i := start; i < len(vp.src); i++ {
		if vp.src[i] == '"' {
			text := vp.src[start:i]
			vp.pos = i + 1
			ref, err := vp.player.alloc(StringDatum(text))
			return ref, err == nil, err
		}
	}
	return VoidRef, false, nil
}

func symbolChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (vp *valueParser) parseSymbol() (Ref, bool, error) {
	start := vp.pos + 1
	end := start
	for end < len(vp.src) && symbolChar(vp.src[end]) {
		end++
	}
	if end == start {
		return VoidRef, false, nil
	}
	vp.pos = end
	ref, err := vp.player.alloc(SymbolDatum(vp.src[start:end]))
	return ref, err == nil, err
}

func (vp *valueParser) parseNumber() (Ref, bool, error) {
	start := vp.pos
	end := start
	if c := vp.peek(); c == '-' || c == '+' {
		end++
	}
	digits := 0
	for end < len(vp.src) && vp.src[end] >= '0' && vp.src[end] <= '9' {
		end++
		digits++
	}
	isFloat := false
	if end < len(vp.src) && vp.src[end] == '.' {
		isFloat = true
		end++
		for end < len(vp.src) && vp.src[end] >= '0' && vp.src[end] <= '9' {
			end++
			digits++
		}
	}
	if digits == 0 {
		return VoidRef, false, nil
	}
	if end < len(vp.src) && (vp.src[end] == 'e' || vp.src[end] == 'E') {
		mark := end
		end++
		if end < len(vp.src) && (vp.src[end] == '-' || vp.src[end] == '+') {
			end++
		}
		expDigits := 0
		for end < len(vp.src) && vp.src[end] >= '0' && vp.src[end] <= '9' {
			end++
			expDigits++
		}
		if expDigits == 0 {
			end = mark
		} else {
			isFloat = true
		}
	}

	text := vp.src[start:end]
	vp.pos = end
	if !isFloat {
		if v, err := strconv.ParseInt(text, 10, 32); err == nil {
			ref, err := vp.player.alloc(IntDatum(int32(v)))
			return ref, err == nil, err
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return VoidRef, false, nil
	}
	ref, err := vp.player.alloc(FloatDatum(f))
	return ref, err == nil, err
}

// parseBracket scans a list or property list. The shape is decided by
// the first separator: a colon after the first expression selects the
// property form, [:] is the empty property list.
func (vp *valueParser) parseBracket() (Ref, bool, error) {
	p := vp.player
	vp.pos++
	vp.skipSpace()

	if vp.peek() == ':' {
		vp.pos++
		vp.skipSpace()
		if vp.peek() != ']' {
			return VoidRef, false, nil
		}
		vp.pos++
		ref, err := p.alloc(PropListDatum(nil))
		return ref, err == nil, err
	}
	if vp.peek() == ']' {
		vp.pos++
		ref, err := p.alloc(ListDatum(nil))
		return ref, err == nil, err
	}

	first, ok, err := vp.parseExpr()
	if err != nil || !ok {
		return VoidRef, false, err
	}
	vp.skipSpace()

	if vp.peek() == ':' {
		return vp.parsePropTail(first)
	}
	return vp.parseListTail(first)
}

func (vp *valueParser) parseListTail(first Ref) (Ref, bool, error) {
	p := vp.player
	elems := []Ref{first}
	fail := func(err error) (Ref, bool, error) {
		p.releaseAll(elems)
		return VoidRef, false, err
	}
	for {
		vp.skipSpace()
		switch vp.peek() {
		case ']':
			vp.pos++
			ref, err := p.alloc(ListDatum(elems))
			if err != nil {
				return fail(err)
			}
			return ref, true, nil
		case ',':
			vp.pos++
			vp.skipSpace()
			elem, ok, err := vp.parseExpr()
			if err != nil || !ok {
				return fail(err)
			}
			elems = append(elems, elem)
		default:
			return fail(nil)
		}
	}
}

func (vp *valueParser) parsePropTail(firstKey Ref) (Ref, bool, error) {
	p := vp.player
	var pairs []PropPair
	releasePairs := func() {
		for _, pair := range pairs {
			p.arena.Release(pair.Key)
			p.arena.Release(pair.Value)
		}
	}

	key := firstKey
	for {
		// at the colon following a key
		if vp.peek() != ':' {
			p.arena.Release(key)
			releasePairs()
			return VoidRef, false, nil
		}
		vp.pos++
		vp.skipSpace()
		value, ok, err := vp.parseExpr()
		if err != nil || !ok {
			p.arena.Release(key)
			releasePairs()
			return VoidRef, false, err
		}
		pairs = append(pairs, PropPair{Key: key, Value: value})

		vp.skipSpace()
		switch vp.peek() {
		case ']':
			vp.pos++
			ref, err := p.alloc(PropListDatum(pairs))
			if err != nil {
				releasePairs()
				return VoidRef, false, err
			}
			return ref, true, nil
		case ',':
			vp.pos++
			vp.skipSpace()
			key, ok, err = vp.parseExpr()
			if err != nil || !ok {
				releasePairs()
				return VoidRef, false, err
			}
			vp.skipSpace()
		default:
			releasePairs()
			return VoidRef, false, nil
		}
	}
}
