package htmltoken

import "strings"

type state int

const (
	statePlainText state = iota
	stateLessThan
	stateLessThanSlash
	stateTagName
	stateBetweenAttributes
	stateAttributeKey
	stateAttributeAfterKey
	stateAttributeAfterEquals
	stateValueSingle
	stateValueDouble
	stateValueBare
	stateTagSlash
)

// scanner は1回のTokenize呼び出しの作業状態を保持する。
type scanner struct {
	src    string
	tokens []*Token

	state     state
	textStart int

	tagStart  int
	tagKind   Kind
	nameStart int
	name      string
	attrs     []attribute

	keyStart   int
	valueStart int
	pending    *attribute
}

// Tokenize はテキストをトークン列に分割する。
// 不正なタグはプレーンテキストとして扱われ、入力の全バイトがいずれかのトークンに含まれる。
func Tokenize(text string) []*Token {
	s := &scanner{src: text}
	for i := 0; i < len(text); i++ {
		s.step(i, text[i])
	}
	s.flushText(len(text))
	return s.tokens
}

func (s *scanner) step(i int, c byte) {
	switch s.state {
	case statePlainText:
		if c == '<' {
			s.beginTag(i)
		}

	case stateLessThan:
		switch {
		case isLetter(c):
			s.tagKind = Start
			s.nameStart = i
			s.state = stateTagName
		case c == '/':
			s.state = stateLessThanSlash
		case c == '<':
			s.beginTag(i)
		default:
			s.state = statePlainText
		}

	case stateLessThanSlash:
		switch {
		case isLetter(c):
			s.tagKind = End
			s.nameStart = i
			s.state = stateTagName
		case c == '<':
			s.beginTag(i)
		default:
			s.state = statePlainText
		}

	case stateTagName:
		switch {
		case isSpace(c):
			s.name = s.src[s.nameStart:i]
			s.state = stateBetweenAttributes
		case c == '/':
			s.name = s.src[s.nameStart:i]
			s.state = stateTagSlash
		case c == '>':
			s.name = s.src[s.nameStart:i]
			s.emitTag(i, s.tagKind)
		case c == '<':
			s.beginTag(i)
		case isNameChar(c):
		default:
			// タグ名として不正な文字: 区間全体をテキストに戻す
			s.state = statePlainText
		}

	case stateBetweenAttributes:
		switch {
		case isSpace(c):
		case c == '>':
			s.emitTag(i, s.tagKind)
		case c == '/':
			s.state = stateTagSlash
		case c == '<':
			s.beginTag(i)
		default:
			s.keyStart = i
			s.state = stateAttributeKey
		}

	case stateAttributeKey:
		switch {
		case c == '=':
			s.pending = &attribute{Attribute: Attribute{Key: s.src[s.keyStart:i]}}
			s.state = stateAttributeAfterEquals
		case isSpace(c):
			s.pending = &attribute{Attribute: Attribute{Key: s.src[s.keyStart:i]}}
			s.state = stateAttributeAfterKey
		case c == '>':
			s.addAttribute(attribute{Attribute: Attribute{Key: s.src[s.keyStart:i]}})
			s.emitTag(i, s.tagKind)
		case c == '/':
			s.addAttribute(attribute{Attribute: Attribute{Key: s.src[s.keyStart:i]}})
			s.state = stateTagSlash
		case c == '<':
			s.beginTag(i)
		}

	case stateAttributeAfterKey:
		switch {
		case isSpace(c):
		case c == '=':
			s.state = stateAttributeAfterEquals
		case c == '>':
			s.commitPending()
			s.emitTag(i, s.tagKind)
		case c == '/':
			s.commitPending()
			s.state = stateTagSlash
		case c == '<':
			s.beginTag(i)
		default:
			s.commitPending()
			s.keyStart = i
			s.state = stateAttributeKey
		}

	case stateAttributeAfterEquals:
		switch {
		case isSpace(c):
		case c == '\'':
			s.valueStart = i + 1
			s.state = stateValueSingle
		case c == '"':
			s.valueStart = i + 1
			s.state = stateValueDouble
		case c == '>':
			s.setPendingValue("", QuoteBare)
			s.emitTag(i, s.tagKind)
		case c == '<':
			s.beginTag(i)
		default:
			s.valueStart = i
			s.state = stateValueBare
		}

	case stateValueSingle:
		if c == '\'' {
			s.setPendingValue(s.src[s.valueStart:i], QuoteSingle)
			s.state = stateBetweenAttributes
		}

	case stateValueDouble:
		if c == '"' {
			s.setPendingValue(s.src[s.valueStart:i], QuoteDouble)
			s.state = stateBetweenAttributes
		}

	case stateValueBare:
		switch {
		case isSpace(c):
			s.setPendingValue(s.src[s.valueStart:i], QuoteBare)
			s.state = stateBetweenAttributes
		case c == '>':
			s.setPendingValue(s.src[s.valueStart:i], QuoteBare)
			s.emitTag(i, s.tagKind)
		case c == '/' && i+1 < len(s.src) && s.src[i+1] == '>':
			s.setPendingValue(s.src[s.valueStart:i], QuoteBare)
			s.state = stateTagSlash
		case c == '<':
			s.beginTag(i)
		}

	case stateTagSlash:
		switch {
		case c == '>':
			kind := SelfClosing
			if s.tagKind == End {
				kind = End
			}
			s.emitTag(i, kind)
		case isSpace(c):
			s.state = stateBetweenAttributes
		case c == '<':
			s.beginTag(i)
		default:
			s.keyStart = i
			s.state = stateAttributeKey
		}
	}
}

// beginTag は位置iの'<'からタグの読み取りを（再）開始する。
// 読み取り途中のタグは破棄され、その区間は保留中のテキストに含まれる。
func (s *scanner) beginTag(i int) {
	s.tagStart = i
	s.name = ""
	s.attrs = nil
	s.pending = nil
	s.state = stateLessThan
}

func (s *scanner) commitPending() {
	if s.pending != nil {
		s.addAttribute(*s.pending)
		s.pending = nil
	}
}

func (s *scanner) setPendingValue(value string, q Quote) {
	if s.pending == nil {
		return
	}
	s.pending.Value = value
	s.pending.Quote = q
	s.commitPending()
}

func (s *scanner) addAttribute(a attribute) {
	if len(s.attrs) >= MaxAttributes {
		return
	}
	s.attrs = append(s.attrs, a)
}

func (s *scanner) flushText(end int) {
	if end > s.textStart {
		s.tokens = append(s.tokens, NewTextRange(s.src, s.textStart, end))
	}
}

// emitTag は位置iの'>'で終わるタグを確定する。
func (s *scanner) emitTag(i int, kind Kind) {
	s.flushText(s.tagStart)
	s.tokens = append(s.tokens, &Token{
		kind:    kind,
		name:    strings.ToLower(s.name),
		rawName: s.name,
		source:  s.src,
		start:   s.tagStart,
		end:     i + 1,
		attrs:   s.attrs,
	})
	s.attrs = nil
	s.pending = nil
	s.textStart = i + 1
	s.state = statePlainText
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

func isNameChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == ':' || c == '_' || c == '-' || c == '$' || c == '.'
}
