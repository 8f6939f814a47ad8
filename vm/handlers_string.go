package vm

// registerStringHandlers installs the string chunk methods.
func (p *Player) registerStringHandlers() {
	p.defineMethod(KindString, "char", stringChunkMethod(chunkChar))
	p.defineMethod(KindString, "word", stringChunkMethod(chunkWord))
	p.defineMethod(KindString, "item", stringChunkMethod(chunkItem))
	p.defineMethod(KindString, "line", stringChunkMethod(chunkLine))
	p.defineMethod(KindString, "count", stringCount)
	p.defineMethod(KindString, "contains", stringContains)
	p.defineMethod(KindString, "starts", stringStarts)
	p.defineMethod(KindString, "getProp", stringGetPropMethod)

	p.defineProp(KindString, "length", stringLengthProp, nil)
	p.defineProp(KindString, "chars", stringCountProp(chunkChar), nil)
	p.defineProp(KindString, "words", stringCountProp(chunkWord), nil)
	p.defineProp(KindString, "items", stringCountProp(chunkItem), nil)
	p.defineProp(KindString, "lines", stringCountProp(chunkLine), nil)

	p.defineProp(KindSymbol, "length", stringLengthProp, nil)
}

// stringText reads the receiver's text.
func (p *Player) stringText(recv Ref) (string, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return "", err
	}
	switch d.Kind {
	case KindString, KindSymbol:
		return d.StrVal, nil
	default:
		return "", Errorf(CodeTypeMismatch, "Expected string, got %s", d.Kind)
	}
}

// stringChunkMethod answers chunk extraction by index: s.word(2) or
// s.word(2, 4) for a span.
func stringChunkMethod(kind chunkKind) datumHandlerFunc {
	return func(p *Player, recv Ref, args []Ref) (Ref, error) {
		text, err := p.stringText(recv)
		if err != nil {
			return VoidRef, err
		}
		first, err := p.intArg(args, 0)
		if err != nil {
			return VoidRef, err
		}
		last := int32(0)
		if len(args) > 1 {
			last, err = p.intArg(args, 1)
			if err != nil {
				return VoidRef, err
			}
		}
		return p.alloc(StringDatum(resolveChunk(text, kind, int(first), int(last), p.movie.itemDelimiter)))
	}
}

// stringCount answers chunk counts by kind name: s.count(#word).
func stringCount(p *Player, recv Ref, args []Ref) (Ref, error) {
	text, err := p.stringText(recv)
	if err != nil {
		return VoidRef, err
	}
	name, err := p.nameArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	kind, ok := chunkKindFromName(name)
	if !ok {
		return VoidRef, Errorf(CodeInvalidArgument, "Invalid chunk type: %s", name)
	}
	return p.alloc(IntDatum(int32(chunkCount(text, kind, p.movie.itemDelimiter))))
}

func stringContains(p *Player, recv Ref, args []Ref) (Ref, error) {
	haystack, err := p.getDatum(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(BoolDatum(p.datumContains(haystack, p.arg(args, 0))))
}

func stringStarts(p *Player, recv Ref, args []Ref) (Ref, error) {
	haystack, err := p.getDatum(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(BoolDatum(p.datumStartsWith(haystack, p.arg(args, 0))))
}

// stringGetPropMethod serves chunk reads through getProp syntax:
// getProp(s, #word, 2) or getProp(s, #word, 2, 4).
func stringGetPropMethod(p *Player, recv Ref, args []Ref) (Ref, error) {
	text, err := p.stringText(recv)
	if err != nil {
		return VoidRef, err
	}
	name, err := p.nameArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	kind, ok := chunkKindFromName(name)
	if !ok {
		return VoidRef, Errorf(CodeInvalidArgument, "Invalid chunk type: %s", name)
	}
	first, err := p.intArg(args, 1)
	if err != nil {
		return VoidRef, err
	}
	last := int32(0)
	if len(args) > 2 {
		last, err = p.intArg(args, 2)
		if err != nil {
			return VoidRef, err
		}
	}
	return p.alloc(StringDatum(resolveChunk(text, kind, int(first), int(last), p.movie.itemDelimiter)))
}

func stringLengthProp(p *Player, recv Ref) (Ref, error) {
	text, err := p.stringText(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(int32(len(text))))
}

// stringCountProp answers the chunk-count properties: the number of
// words in s reads s.words.
func stringCountProp(kind chunkKind) propGetter {
	return func(p *Player, recv Ref) (Ref, error) {
		text, err := p.stringText(recv)
		if err != nil {
			return VoidRef, err
		}
		return p.alloc(IntDatum(int32(chunkCount(text, kind, p.movie.itemDelimiter))))
	}
}
