package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"modernc.org/libqbe"
)

const (
	DefaultTapeSize    = 30000
	DefaultEntrySymbol = "main"
	DefaultWriteSymbol = "putchar"
	DefaultReadSymbol  = "getchar"
)

type Warning int

const (
	WarnDeadLoop Warning = iota
	WarnEmptyLoop
	WarnTapeUnderflow
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

type Config struct {
	Warnings   map[Warning]Info
	WarningMap map[string]Warning

	GOOS           string
	GOARCH         string
	QbeTarget      string
	WordSize       int
	WordType       string
	StackAlignment int

	// Memory model and symbol binding.
	TapeSize    int
	EntrySymbol string
	WriteSymbol string
	ReadSymbol  string

	// Object emission.
	Assembler  string
	LinkerArgs []string

	// Log receives info and warning lines; nil silences them.
	Log io.Writer
}

func NewConfig() *Config {
	cfg := &Config{
		Warnings:    make(map[Warning]Info),
		WarningMap:  make(map[string]Warning),
		TapeSize:    DefaultTapeSize,
		EntrySymbol: DefaultEntrySymbol,
		WriteSymbol: DefaultWriteSymbol,
		ReadSymbol:  DefaultReadSymbol,
		Assembler:   defaultAssembler(),
		Log:         os.Stderr,
	}

	warnings := map[Warning]Info{
		WarnDeadLoop:      {"dead-loop", true, "Warn about loops that can never be entered because the current cell is known to be zero."},
		WarnEmptyLoop:     {"empty-loop", true, "Warn about '[]', which never terminates once entered."},
		WarnTapeUnderflow: {"tape-underflow", true, "Warn when the pointer provably moves left of the first cell."},
	}

	cfg.Warnings = warnings
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	cfg.WordSize, cfg.WordType, cfg.StackAlignment = 8, "l", 16
	return cfg
}

// defaultAssembler picks the C compiler driver used to assemble and link. It
// is invoked as "<driver> -c -x assembler", so a bare "as" does not work here.
func defaultAssembler() string {
	for _, env := range []string{"GBF_CC", "CC"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return "cc"
}

func (c *Config) logf(format string, args ...interface{}) {
	if c.Log == nil {
		return
	}
	fmt.Fprintf(c.Log, format, args...)
}

// SetTarget configures the compiler for a specific architecture and QBE target.
func (c *Config) SetTarget(goos, goarch, qbeTarget string) {
	if qbeTarget == "" {
		c.QbeTarget = libqbe.DefaultTarget(goos, goarch)
		c.logf("gbf: info: no target specified, defaulting to host target '%s'\n", c.QbeTarget)
	} else {
		c.QbeTarget = qbeTarget
		c.logf("gbf: info: using specified target '%s'\n", c.QbeTarget)
	}

	c.GOOS, c.GOARCH = goos, goarch

	switch c.QbeTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		c.WordSize, c.WordType, c.StackAlignment = 8, "l", 16
	default:
		c.logf("gbf: warning: unrecognized or unsupported QBE target '%s'.\n", c.QbeTarget)
		c.logf("gbf: warning: defaulting to 64-bit properties. Compilation may fail.\n")
		c.WordSize, c.WordType, c.StackAlignment = 8, "l", 16
	}
}

// Validate rejects settings the code generator cannot honor.
func (c *Config) Validate() error {
	if c.TapeSize <= 0 {
		return fmt.Errorf("tape size must be positive, got %d", c.TapeSize)
	}
	for what, name := range map[string]string{"entry": c.EntrySymbol, "write": c.WriteSymbol, "read": c.ReadSymbol} {
		if !isSymbolName(name) {
			return fmt.Errorf("invalid %s symbol name '%s'", what, name)
		}
	}
	if c.WriteSymbol == c.ReadSymbol || c.EntrySymbol == c.WriteSymbol || c.EntrySymbol == c.ReadSymbol {
		return fmt.Errorf("entry, write and read symbols must be distinct")
	}
	return nil
}

func isSymbolName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r == '.', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// SetAllWarnings backs -Wall and -Wno-all.
func (c *Config) SetAllWarnings(enabled bool) {
	for i := Warning(0); i < WarnCount; i++ {
		c.SetWarning(i, enabled)
	}
}

func (c *Config) applyFlag(flag string) {
	trimmed := strings.TrimPrefix(flag, "-")
	if !strings.HasPrefix(trimmed, "W") {
		return
	}
	name := strings.TrimPrefix(trimmed, "W")
	enable := true
	if strings.HasPrefix(name, "no-") {
		name = strings.TrimPrefix(name, "no-")
		enable = false
	}

	if name == "all" {
		c.SetAllWarnings(enable)
		return
	}
	if w, ok := c.WarningMap[name]; ok {
		c.SetWarning(w, enable)
	}
}

// ProcessFlags applies -Wall/-Wno-all before the individual warning switches,
// so that "-Wno-all -Wdead-loop" leaves only dead-loop enabled.
func (c *Config) ProcessFlags(flags []string) {
	for _, f := range flags {
		if f == "-Wall" || f == "-Wno-all" {
			c.applyFlag(f)
		}
	}
	for _, f := range flags {
		if f != "-Wall" && f != "-Wno-all" {
			c.applyFlag(f)
		}
	}
}

// ParseCLIString splits a shell-like argument string, honoring single and double quotes.
func ParseCLIString(s string) ([]string, error) {
	var args []string
	var sb strings.Builder
	var quote rune
	inArg := false
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				sb.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, inArg = r, true
		case r == ' ' || r == '\t' || r == '\n':
			if inArg {
				args = append(args, sb.String())
				sb.Reset()
				inArg = false
			}
		default:
			sb.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in %q", s)
	}
	if inArg {
		args = append(args, sb.String())
	}
	return args, nil
}
