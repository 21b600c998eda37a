package token

type Type int

const (
	EOF Type = iota
	Right
	Left
	Plus
	Minus
	Dot
	Comma
	LBracket
	RBracket
)

// CommandMap maps each command byte to its token type. Every other byte is a comment.
var CommandMap = map[rune]Type{
	'>': Right,
	'<': Left,
	'+': Plus,
	'-': Minus,
	'.': Dot,
	',': Comma,
	'[': LBracket,
	']': RBracket,
}

// Reverse mapping from Type to the command character
var TypeStrings = make(map[Type]string)

func init() {
	for ch, typ := range CommandMap {
		TypeStrings[typ] = string(ch)
	}
	TypeStrings[EOF] = "EOF"
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return "?"
}

type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}
