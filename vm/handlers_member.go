package vm

// registerMemberHandlers installs the cast member and cast library
// surfaces scripts reach through member() and castLib().
func (p *Player) registerMemberHandlers() {
	p.defineProp(KindMember, "name", memberNameProp, memberSetNameProp)
	p.defineProp(KindMember, "number", memberNumberProp, nil)
	p.defineProp(KindMember, "castLibNum", memberCastLibNumProp, nil)
	p.defineProp(KindMember, "type", memberTypeProp, nil)
	p.defineProp(KindMember, "text", memberTextProp, memberSetTextProp)
	p.defineProp(KindMember, "width", memberWidthProp, nil)
	p.defineProp(KindMember, "height", memberHeightProp, nil)
	p.defineProp(KindMember, "script", memberScriptProp, nil)

	p.defineMethod(KindMember, "count", memberChunkCount)

	p.defineProp(KindCastLib, "name", castLibNameProp, nil)
	p.defineProp(KindCastLib, "number", castLibNumberProp, nil)
	p.defineProp(KindCastLib, "fileName", castLibFileNameProp, nil)
	p.defineProp(KindCastLib, "memberCount", castLibMemberCountProp, nil)

	p.defineMethod(KindCastLib, "member", castLibMember)
}

// memberFromRef reads the receiver as a live cast member.
func (p *Player) memberFromRef(recv Ref) (*CastMember, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindMember {
		return nil, Errorf(CodeTypeMismatch, "Expected member, got %s", d.Kind)
	}
	member := p.casts.FindMember(d.Member)
	if member == nil {
		return nil, Errorf(CodeCastMemberNotFound, "Member %d not found in castLib %d", d.Member.MemberNum, d.Member.CastNum)
	}
	return member, nil
}

// castLibFromRef reads the receiver as a mounted cast library.
func (p *Player) castLibFromRef(recv Ref) (*CastLib, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindCastLib {
		return nil, Errorf(CodeTypeMismatch, "Expected castLib, got %s", d.Kind)
	}
	return p.casts.GetCast(d.CastNum)
}

// ---------------------------------------------------------------------------
// Member properties
// ---------------------------------------------------------------------------

func memberNameProp(p *Player, recv Ref) (Ref, error) {
	member, err := p.memberFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(StringDatum(member.Name))
}

func memberSetNameProp(p *Player, recv Ref, value Ref) error {
	member, err := p.memberFromRef(recv)
	if err != nil {
		return err
	}
	name, err := p.stringValueRef(value)
	if err != nil {
		return err
	}
	member.Name = name
	return nil
}

func memberNumberProp(p *Player, recv Ref) (Ref, error) {
	member, err := p.memberFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(member.Number))
}

func memberCastLibNumProp(p *Player, recv Ref) (Ref, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(d.Member.CastNum))
}

func memberTypeProp(p *Player, recv Ref) (Ref, error) {
	member, err := p.memberFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(SymbolDatum(member.Kind.String()))
}

func memberTextProp(p *Player, recv Ref) (Ref, error) {
	member, err := p.memberFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(StringDatum(member.Text))
}

func memberSetTextProp(p *Player, recv Ref, value Ref) error {
	member, err := p.memberFromRef(recv)
	if err != nil {
		return err
	}
	if member.Kind != MemberField && member.Kind != MemberText {
		return Errorf(CodeTypeMismatch, "Member %d is not a field", member.Number)
	}
	text, err := p.stringValueRef(value)
	if err != nil {
		return err
	}
	member.Text = text
	return nil
}

func memberWidthProp(p *Player, recv Ref) (Ref, error) {
	member, err := p.memberFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(member.Width))
}

func memberHeightProp(p *Player, recv Ref) (Ref, error) {
	member, err := p.memberFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(member.Height))
}

func memberScriptProp(p *Player, recv Ref) (Ref, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return VoidRef, err
	}
	member := p.casts.FindMember(d.Member)
	if member == nil || member.Script == nil {
		return VoidRef, Errorf(CodeTypeMismatch, "Member %d is not a script", d.Member.MemberNum)
	}
	return p.alloc(ScriptDatum(d.Member))
}

// memberChunkCount counts chunks of a field's text: member.count(#line).
func memberChunkCount(p *Player, recv Ref, args []Ref) (Ref, error) {
	member, err := p.memberFromRef(recv)
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
	return p.alloc(IntDatum(int32(chunkCount(member.Text, kind, p.movie.itemDelimiter))))
}

// ---------------------------------------------------------------------------
// Cast library properties
// ---------------------------------------------------------------------------

func castLibNameProp(p *Player, recv Ref) (Ref, error) {
	lib, err := p.castLibFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(StringDatum(lib.Name))
}

func castLibNumberProp(p *Player, recv Ref) (Ref, error) {
	lib, err := p.castLibFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(lib.Number))
}

func castLibFileNameProp(p *Player, recv Ref) (Ref, error) {
	lib, err := p.castLibFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(StringDatum(lib.FileName))
}

func castLibMemberCountProp(p *Player, recv Ref) (Ref, error) {
	lib, err := p.castLibFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(int32(lib.MemberCount())))
}

// castLibMember resolves a member inside this library by number or name.
func castLibMember(p *Player, recv Ref, args []Ref) (Ref, error) {
	lib, err := p.castLibFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	id := p.arg(args, 0)
	switch id.Kind {
	case KindInt:
		member, err := lib.GetMember(id.IntVal)
		if err != nil {
			return VoidRef, err
		}
		return p.alloc(MemberDatum(MemberRef{CastNum: lib.Number, MemberNum: member.Number}))
	case KindString, KindSymbol:
		member := lib.GetMemberByName(id.StrVal, p.config.CaseSensitiveNames)
		if member == nil {
			return VoidRef, Errorf(CodeCastMemberNotFound, "Member %s not found in castLib %d", id.StrVal, lib.Number)
		}
		return p.alloc(MemberDatum(MemberRef{CastNum: lib.Number, MemberNum: member.Number}))
	default:
		return VoidRef, Errorf(CodeInvalidArgument, "Invalid member identifier: %s", id.Kind)
	}
}
