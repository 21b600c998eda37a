package codegen

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/xplshn/gbf/pkg/config"
)

// EmitObject assembles asm into a relocatable object at outPath. The object is
// produced under a temporary name next to outPath and renamed into place only
// when the assembler succeeds, so a failed run never leaves a partial file.
func EmitObject(asm, outPath string, cfg *config.Config) error {
	asmFile, err := os.CreateTemp("", "gbf-main-*.s")
	if err != nil {
		return fmt.Errorf("failed to create temp file for asm: %w", err)
	}
	defer os.Remove(asmFile.Name())
	if _, err := asmFile.WriteString(asm); err != nil {
		asmFile.Close()
		return fmt.Errorf("failed to write to temp file for asm: %w", err)
	}
	if err := asmFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for asm: %w", err)
	}

	return produceAtomically(outPath, func(tmpPath string) error {
		if err := runTool(cfg.Assembler, "-c", "-x", "assembler", "-o", tmpPath, asmFile.Name()); err != nil {
			return err
		}
		return os.Chmod(tmpPath, 0o644)
	})
}

// Link turns an object produced by EmitObject into an executable against the
// host C runtime, which supplies the byte reader and writer.
func Link(objPath, outPath string, cfg *config.Config) error {
	return produceAtomically(outPath, func(tmpPath string) error {
		args := append([]string{"-o", tmpPath, objPath}, cfg.LinkerArgs...)
		if err := runTool(cfg.Assembler, args...); err != nil {
			return err
		}
		return os.Chmod(tmpPath, 0o755)
	})
}

// WriteFileAtomic writes data to path through a temporary sibling file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return produceAtomically(path, func(tmpPath string) error {
		if err := os.WriteFile(tmpPath, data, perm); err != nil {
			return err
		}
		return os.Chmod(tmpPath, perm)
	})
}

// produceAtomically reserves a temporary path in the destination directory,
// lets produce fill it, then renames it over outPath. On any failure the
// temporary is removed and outPath is left untouched.
func produceAtomically(outPath string, produce func(tmpPath string) error) (err error) {
	dir := filepath.Dir(outPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp output in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if err = produce(tmpPath); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// runTool runs a compiler driver given as a shell-like command string, e.g. "zig cc".
func runTool(command string, args ...string) error {
	argv, err := config.ParseCLIString(command)
	if err != nil {
		return fmt.Errorf("invalid tool command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("no assembler configured")
	}
	cmd := exec.Command(argv[0], append(argv[1:], args...)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s command failed: %w\nOutput:\n%s", argv[0], err, string(output))
	}
	return nil
}
