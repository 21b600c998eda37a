package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/peterh/liner"
	"github.com/xplshn/gbf/pkg/ast"
	"github.com/xplshn/gbf/pkg/cli"
	"github.com/xplshn/gbf/pkg/codegen"
	"github.com/xplshn/gbf/pkg/config"
	"github.com/xplshn/gbf/pkg/interp"
	"github.com/xplshn/gbf/pkg/ir"
	"github.com/xplshn/gbf/pkg/lexer"
	"github.com/xplshn/gbf/pkg/parser"
	"github.com/xplshn/gbf/pkg/token"
	"github.com/xplshn/gbf/pkg/util"
)

const historyFile = ".gbf_history"

func main() {
	app := cli.NewApp("gbf")
	app.Synopsis = "[options] <input.bf> ..."
	app.Description = "A native code generator for the eight-instruction tape language. Each program becomes one relocatable object exporting a single entry point that talks to the world through two C runtime functions."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/gbf>"

	var (
		outFile     string
		target      string
		linkerArgs  []string
		emitAsm     bool
		dumpIR      bool
		emitC       bool
		link        bool
		run         bool
		execIR      bool
		repl        bool
		verbose     bool
		tapeSize    int
		entrySym    string
		writeSym    string
		readSym     string
		interactive bool
	)

	cfg := config.NewConfig()

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "main.o", "Place the output into <file>.", "file")
	fs.String(&target, "target", "t", "", "Set the QBE target ABI (defaults to the host).", "target")
	fs.Bool(&emitAsm, "asm", "S", false, "Write target assembly instead of an object file.")
	fs.Bool(&dumpIR, "dump-ir", "d", false, "Print the QBE intermediate representation and exit.")
	fs.Bool(&emitC, "emit-c", "", false, "Print an equivalent C translation unit and exit.")
	fs.Bool(&link, "link", "x", false, "Link the object against the C runtime into an executable.")
	fs.List(&linkerArgs, "linker-arg", "L", []string{}, "Pass an argument to the linker.", "arg")
	fs.Bool(&run, "run", "r", false, "Interpret the program instead of compiling it.")
	fs.Bool(&execIR, "exec-ir", "", false, "Lower the program and execute the IR directly.")
	fs.Bool(&repl, "repl", "", false, "Start an interactive session.")
	fs.Bool(&verbose, "verbose", "v", false, "Report each compilation stage.")
	fs.Int(&tapeSize, "tape-size", "", config.DefaultTapeSize, "Number of cells on the tape.", "cells")
	fs.String(&entrySym, "entry", "", config.DefaultEntrySymbol, "Name of the exported entry function.", "symbol")
	fs.String(&writeSym, "write-symbol", "", config.DefaultWriteSymbol, "Runtime function that writes one byte.", "symbol")
	fs.String(&readSym, "read-symbol", "", config.DefaultReadSymbol, "Runtime function that reads one byte.", "symbol")
	setupWarningFlags(fs, cfg)

	app.Action = func(inputFiles []string) error {
		cfg.ProcessFlags(fs.GroupArgs())
		if !verbose {
			cfg.Log = nil
		}
		cfg.TapeSize = tapeSize
		cfg.EntrySymbol, cfg.WriteSymbol, cfg.ReadSymbol = entrySym, writeSym, readSym
		cfg.LinkerArgs = append(cfg.LinkerArgs, linkerArgs...)
		cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target)
		if err := cfg.Validate(); err != nil {
			util.Error(token.Token{}, "%v", err)
		}

		if repl {
			interactive = cli.IsTerminal(os.Stdin)
			return runREPL(cfg, interactive)
		}

		if len(inputFiles) == 0 {
			util.Error(token.Token{}, "no input files specified.")
		}

		stage := func(format string, args ...interface{}) {
			if verbose {
				fmt.Printf(format+"\n", args...)
			}
		}

		stage("----------------------")
		stage("Tokenizing %d source file(s)...", len(inputFiles))
		records, tokens := readAndTokenizeFiles(inputFiles)
		util.SetSourceFiles(records)

		stage("Parsing tokens into AST...")
		prog, err := parser.NewParser(tokens).Parse()
		if err != nil {
			reportParseError(err)
		}
		stats := ast.Measure(prog)
		stage("Program has %d primitive(s) and %d loop(s), nested %d deep", stats.Primitives, stats.Loops, stats.MaxDepth)

		codegen.ReportDiagnostics(codegen.Lint(prog, cfg), cfg)

		switch {
		case run:
			it := interp.New(cfg.TapeSize)
			if err := it.Run(prog, os.Stdin, os.Stdout); err != nil {
				util.Error(token.Token{}, "%v", err)
			}
			return nil
		case emitC:
			src, err := codegen.TranspileC(prog, cfg)
			if err != nil {
				util.Error(token.Token{}, "C generation failed: %v", err)
			}
			fmt.Print(src)
			return nil
		}

		stage("Creating intermediate representation...")
		cg := codegen.NewContext(cfg)
		irProg, err := cg.GenerateIR(prog)
		if err != nil {
			util.Error(token.Token{}, "IR generation failed: %v", err)
		}

		if execIR {
			fn := irProg.FindFunc(cfg.EntrySymbol)
			ret, err := ir.Exec(fn, ir.ExecOptions{
				Externals: ir.StdioExternals(cfg.WriteSymbol, cfg.ReadSymbol, os.Stdin, os.Stdout),
				WordSize:  cfg.WordSize,
			})
			if err != nil {
				util.Error(token.Token{}, "IR execution failed: %v", err)
			}
			if ret != 0 {
				os.Exit(int(ret))
			}
			return nil
		}

		backend := codegen.NewQBEBackend()
		if dumpIR {
			stage("Dumping IR for 'qbe' backend...")
			irText, err := backend.GenerateIR(irProg, cfg)
			if err != nil {
				util.Error(token.Token{}, "backend IR generation failed: %v", err)
			}
			fmt.Print(irText)
			return nil
		}

		stage("Generating code with 'qbe' backend for target '%s'...", cfg.QbeTarget)
		asm, err := backend.Generate(irProg, cfg)
		if err != nil {
			util.Error(token.Token{}, "backend code generation failed: %v", err)
		}

		if emitAsm {
			stage("Writing assembly to '%s'...", outFile)
			if err := codegen.WriteFileAtomic(outFile, asm.Bytes(), 0o644); err != nil {
				util.Error(token.Token{}, "could not write '%s': %v", outFile, err)
			}
			stage("----------------------")
			stage("Done!")
			return nil
		}

		objFile := outFile
		if link {
			tmp, err := os.CreateTemp("", "gbf-*.o")
			if err != nil {
				util.Error(token.Token{}, "failed to create temp object: %v", err)
			}
			tmp.Close()
			objFile = tmp.Name()
			defer os.Remove(objFile)
		}

		stage("Assembling '%s'...", objFile)
		if err := codegen.EmitObject(asm.String(), objFile, cfg); err != nil {
			util.Error(token.Token{}, "assembler failed: %v", err)
		}

		if link {
			stage("Linking to create '%s'...", outFile)
			if err := codegen.Link(objFile, outFile, cfg); err != nil {
				util.Error(token.Token{}, "linker failed: %v", err)
			}
		}

		stage("----------------------")
		stage("Done!")
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

func setupWarningFlags(fs *cli.FlagSet, cfg *config.Config) {
	var entries []cli.FlagGroupEntry
	for i := config.Warning(0); i < config.WarnCount; i++ {
		info := cfg.Warnings[i]
		entries = append(entries, cli.FlagGroupEntry{Name: info.Name, Usage: info.Description, Enabled: info.Enabled})
	}
	fs.AddFlagGroup(cli.FlagGroup{Name: "Warning Flags", Prefix: "W", GroupType: "warning", Entries: entries})
}

func reportParseError(err error) {
	var perr *parser.Error
	if errors.As(err, &perr) {
		util.Error(perr.Tok, "%s", perr.Msg)
	}
	util.Error(token.Token{}, "%v", err)
}

func readAndTokenizeFiles(paths []string) ([]util.SourceFileRecord, []token.Token) {
	var records []util.SourceFileRecord
	var allTokens []token.Token

	for i, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			util.Error(token.Token{FileIndex: -1}, "could not read file '%s': %v", path, err)
			continue
		}
		runeContent := []rune(string(content))
		records = append(records, util.SourceFileRecord{Name: path, Content: runeContent})
		l := lexer.NewLexer(runeContent, i)
		for {
			tok := l.Next()
			if tok.Type == token.EOF {
				break
			}
			allTokens = append(allTokens, tok)
		}
	}
	finalFileIndex := 0
	if len(paths) > 0 {
		finalFileIndex = len(paths) - 1
	}
	allTokens = append(allTokens, token.Token{Type: token.EOF, FileIndex: finalFileIndex})
	return records, allTokens
}

// runREPL keeps one tape alive across entries. Lines are accumulated until
// every '[' is closed.
func runREPL(cfg *config.Config, interactive bool) error {
	it := interp.New(cfg.TapeSize)

	if !interactive {
		src, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		prog, err := parser.ParseSource(string(src), 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
		return it.Run(prog, bytes.NewReader(nil), os.Stdout)
	}

	fmt.Println("gbf interactive mode. :help for commands, Ctrl+D to quit.")

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	for {
		src, ok := readByParseProbe(ln, "bf> ", "... ")
		if !ok {
			fmt.Println()
			break
		}
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, ":") {
			if handleReplCommand(it, trimmed) {
				break
			}
			continue
		}

		prog, err := parser.ParseSource(src, 0)
		if err != nil {
			fmt.Println(err)
			continue
		}
		// Program input comes from the terminal too, so it shares the liner prompt.
		if err := it.Run(prog, &promptReader{ln: ln}, os.Stdout); err != nil {
			fmt.Println(err)
		}
		fmt.Println()
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))
	}

	if f, err := os.Create(histPath); err == nil {
		_, _ = ln.WriteHistory(f)
		_ = f.Close()
	}
	return nil
}

func handleReplCommand(it *interp.Interpreter, line string) (exit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":help":
		fmt.Println(":tape [n]   show the first n cells (default 16) and the pointer")
		fmt.Println(":reset      clear the tape")
		fmt.Println(":quit       leave")
	case ":quit", ":exit":
		return true
	case ":reset":
		it.Reset()
		fmt.Println("tape reset.")
	case ":tape":
		n := 16
		if len(fields) > 1 {
			fmt.Sscanf(fields[1], "%d", &n)
		}
		if n > len(it.Tape) {
			n = len(it.Tape)
		}
		var sb strings.Builder
		for i := 0; i < n; i++ {
			if i == it.Ptr {
				fmt.Fprintf(&sb, "[%d] ", it.Tape[i])
			} else {
				fmt.Fprintf(&sb, "%d ", it.Tape[i])
			}
		}
		fmt.Printf("%s(ptr=%d)\n", strings.TrimSpace(sb.String()), it.Ptr)
	default:
		fmt.Println("unknown command. Type :help for help.")
	}
	return false
}

// readByParseProbe reads lines until the buffer parses, or until the parser
// reports an error that more input cannot fix.
func readByParseProbe(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder
	for {
		p := prompt
		if b.Len() > 0 {
			p = cont
		}
		line, err := ln.Prompt(p)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			// Ctrl+C drops the pending entry.
			return "", true
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if strings.HasPrefix(strings.TrimSpace(src), ":") {
			return src, true
		}
		if _, perr := parser.ParseSource(src, 0); perr != nil && parser.IsIncomplete(perr) {
			continue
		}
		return src, true
	}
}

// promptReader feeds ',' from liner, one line at a time.
type promptReader struct {
	ln  *liner.State
	buf []byte
	eof bool
}

func (r *promptReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		line, err := r.ln.Prompt("")
		if err != nil {
			r.eof = true
			return 0, io.EOF
		}
		r.buf = []byte(line + "\n")
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
