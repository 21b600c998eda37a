// gtest checks compiled programs against the interpreter. For every source
// file it runs "gbf --run" as the reference, compiles and links the same file
// with gbf, and compares what both print for the same input.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
)

type Execution struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

type TargetResult struct {
	BinaryPath string     `json:"binary_path,omitempty"`
	Compile    *Execution `json:"compile,omitempty"`
	Run        Execution  `json:"run"`
}

type FileTestResult struct {
	File      string        `json:"file"`
	Status    string        `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message   string        `json:"message,omitempty"`
	Input     string        `json:"input,omitempty"`
	Diff      string        `json:"diff,omitempty"`
	Reference *TargetResult `json:"reference,omitempty"`
	Target    *TargetResult `json:"target,omitempty"`
}

type TestSuiteResults map[string]*FileTestResult

var (
	compiler       = flag.String("compiler", "./gbf", "Path to the gbf binary under test.")
	compilerArgs   = flag.String("compiler-args", "", "Extra arguments for compilation (space-separated).")
	generateGolden = flag.String("generate-golden", "", "Record the interpreter's result for a source file as a golden .json file.")
	testFiles      = flag.String("test-files", "tests/*.bf", "Glob pattern(s) for files to test (space-separated).")
	skipFiles      = flag.String("skip-files", "", "Files to skip (space-separated).")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	timeout        = flag.Duration("timeout", 5*time.Second, "Timeout for each command execution.")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	verbose        = flag.Bool("v", false, "Enable verbose logging.")
	useCache       = flag.Bool("cached", false, "Compare against golden files instead of the interpreter when available.")
	jsonDir        = flag.String("dir", "", "Directory to store/read golden JSON files (defaults to source file dir).")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	tempDir, err := os.MkdirTemp("", "gtest-*")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to create temp directory: %v\n", cRed, cNone, err)
	}
	defer os.RemoveAll(tempDir)
	setupInterruptHandler(tempDir)

	if *generateGolden != "" {
		handleGenerateGolden(*generateGolden)
		return
	}

	handleRunTestSuite(tempDir)
}

// setupInterruptHandler is used to clean up on CTRL+C
func setupInterruptHandler(tempDir string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		os.RemoveAll(tempDir)
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled. Cleaning up...\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func getJSONPath(sourceFile string) string {
	jsonFileName := "." + filepath.Base(sourceFile) + ".json"
	if *jsonDir != "" {
		return filepath.Join(*jsonDir, jsonFileName)
	}
	return filepath.Join(filepath.Dir(sourceFile), jsonFileName)
}

// readInput returns the contents of the ".in" file next to sourceFile, if any.
func readInput(sourceFile string) string {
	data, err := os.ReadFile(strings.TrimSuffix(sourceFile, filepath.Ext(sourceFile)) + ".in")
	if err != nil {
		return ""
	}
	return string(data)
}

// hashTestCase hashes a program together with its input, so two files only
// count as duplicates when they would also be fed the same bytes.
func hashTestCase(sourceFile, input string) (string, error) {
	f, err := os.Open(sourceFile)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	_, _ = h.WriteString("\x00" + input)
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func handleGenerateGolden(sourceFile string) {
	log.Printf("Generating golden file for %s...\n", sourceFile)

	ref := interpret(sourceFile, readInput(sourceFile))
	if ref.Run.TimedOut {
		log.Fatalf("%s[ERROR]%s Interpreter timed out on %s\n", cRed, cNone, sourceFile)
	}

	jsonData, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to marshal golden data to JSON: %v\n", cRed, cNone, err)
	}

	goldenFileName := getJSONPath(sourceFile)
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0755); err != nil {
			log.Fatalf("%s[ERROR]%s Failed to create directory %s: %v\n", cRed, cNone, *jsonDir, err)
		}
	}
	if err := os.WriteFile(goldenFileName, jsonData, 0644); err != nil {
		log.Fatalf("%s[ERROR]%s Failed to write golden file %s: %v\n", cRed, cNone, goldenFileName, err)
	}

	log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, goldenFileName)
}

func handleRunTestSuite(tempDir string) {
	if _, err := exec.LookPath(*compiler); err != nil {
		log.Fatalf("%s[ERROR]%s Compiler '%s' not found: %v\n", cRed, cNone, *compiler, err)
	}

	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return
	}

	skipList := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		if abs, err := filepath.Abs(f); err == nil {
			skipList[abs] = true
		}
	}

	type task struct{ file, input, hash string }
	tasks := make(chan task, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup

	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				resultsChan <- testFile(t.file, t.input, tempDir, t.hash)
			}
		}()
	}

	seenHashes := make(map[string]string)
	for _, file := range files {
		if skipList[file] {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		input := readInput(file)
		fileHash, err := hashTestCase(file, input)
		if err != nil {
			resultsChan <- &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to read file for hashing: %v", err)}
			continue
		}
		if originalFile, seen := seenHashes[fileHash]; seen {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: fmt.Sprintf("Content is identical to %s", originalFile)}
			continue
		}
		seenHashes[fileHash] = file
		tasks <- task{file, input, fileHash}
	}
	close(tasks)

	wg.Wait()
	close(resultsChan)

	var allResults []*FileTestResult
	for result := range resultsChan {
		allResults = append(allResults, result)
	}
	sort.Slice(allResults, func(i, j int) bool {
		return allResults[i].File < allResults[j].File
	})

	printSummary(allResults)
	resultsMap := writeJSONReport(allResults)

	if hasFailures(resultsMap) {
		os.Exit(1)
	}
}

func testFile(file, input, tempDir, fileHash string) *FileTestResult {
	var ref *TargetResult
	goldenFile := getJSONPath(file)
	if data, err := os.ReadFile(goldenFile); *useCache && err == nil {
		ref = &TargetResult{}
		if err := json.Unmarshal(data, ref); err != nil {
			return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file %s: %v", goldenFile, err)}
		}
	} else {
		ref = interpret(file, input)
	}

	if ref.Run.TimedOut {
		return &FileTestResult{File: file, Status: "SKIP", Message: "Interpreter timed out; program may not terminate", Input: input, Reference: ref}
	}
	if ref.Run.ExitCode != 0 {
		// Programs the interpreter rejects (tape overflow, syntax errors) have
		// no defined compiled behavior to compare with.
		return &FileTestResult{File: file, Status: "SKIP", Message: "Interpreter rejected the program", Input: input, Reference: ref}
	}

	target, err := compileAndRun(file, input, tempDir, fileHash)
	if err != nil {
		return &FileTestResult{
			File:      file,
			Status:    "FAIL",
			Message:   err.Error(),
			Input:     input,
			Diff:      fmt.Sprintf("Compiler STDERR:\n%s", target.Compile.Stderr),
			Reference: ref,
			Target:    target,
		}
	}
	return compareResults(file, input, ref, target)
}

func compareResults(file, input string, ref, target *TargetResult) *FileTestResult {
	var diffs strings.Builder
	failed := false

	if target.Run.TimedOut {
		failed = true
		diffs.WriteString("Compiled program timed out.\n")
	}
	if target.Run.ExitCode != ref.Run.ExitCode {
		failed = true
		diffs.WriteString(fmt.Sprintf("Exit Code mismatch:\n  - Ref:    %d\n  - Target: %d\n", ref.Run.ExitCode, target.Run.ExitCode))
	}
	if d := cmp.Diff(ref.Run.Stdout, target.Run.Stdout); d != "" {
		failed = true
		diffs.WriteString(fmt.Sprintf("STDOUT mismatch (-ref +target):\n%s", d))
	}

	status, msg := "PASS", "Compiled output matches the interpreter"
	if failed {
		status, msg = "FAIL", "Runtime output or exit code mismatch"
	}
	return &FileTestResult{File: file, Status: status, Message: msg, Input: input, Diff: diffs.String(), Reference: ref, Target: target}
}

// executeCommand runs a command with a timeout and captures its output, optionally piping data to stdin
func executeCommand(ctx context.Context, command string, stdinData string, args ...string) Execution {
	startTime := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = strings.NewReader(stdinData)

	err := cmd.Run()

	execResult := Execution{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
	}

	if ctx.Err() == context.DeadlineExceeded {
		execResult.TimedOut = true
		execResult.ExitCode = -1
	} else if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			execResult.ExitCode = exitErr.ExitCode()
		} else {
			execResult.ExitCode = -2
			execResult.Stderr += "\nExecution error: " + err.Error()
		}
	}
	return execResult
}

func interpret(sourceFile, input string) *TargetResult {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	return &TargetResult{Run: executeCommand(ctx, *compiler, input, "--run", sourceFile)}
}

func compileAndRun(sourceFile, input, tempDir, binaryHash string) (*TargetResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	binaryPath := filepath.Join(tempDir, binaryHash)
	args := append([]string{"-x", "-o", binaryPath}, strings.Fields(*compilerArgs)...)
	args = append(args, sourceFile)

	compileResult := executeCommand(ctx, *compiler, "", args...)
	result := &TargetResult{Compile: &compileResult}
	if compileResult.ExitCode != 0 || compileResult.TimedOut {
		return result, fmt.Errorf("compilation failed with exit code %d", compileResult.ExitCode)
	}
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		return result, fmt.Errorf("compilation succeeded but binary was not created at %s", binaryPath)
	}

	runCtx, runCancel := context.WithTimeout(context.Background(), *timeout)
	defer runCancel()
	result.BinaryPath = binaryPath
	result.Run = executeCommand(runCtx, binaryPath, input)
	return result, nil
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%6dµs", d.Microseconds())
	}
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int
	var totalRef, totalTarget time.Duration
	timed := 0

	for _, result := range results {
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, result.File, cNone)

		switch result.Status {
		case "PASS":
			passed++
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, result.Message)
		case "FAIL":
			failed++
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, result.Message)
			fmt.Println(formatDiff(result.Diff))
		case "SKIP":
			skipped++
			fmt.Printf("  [%sSKIP%s] %s\n", cYellow, cNone, result.Message)
		case "ERROR":
			errored++
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, result.Message)
		}

		if result.Status == "PASS" && result.Reference != nil && result.Target != nil {
			timed++
			totalRef += result.Reference.Run.Duration
			totalTarget += result.Target.Run.Duration
			if *verbose {
				fmt.Printf("  [interp: %s | native: %s | compile: %s]\n",
					formatDuration(result.Reference.Run.Duration),
					formatDuration(result.Target.Run.Duration),
					formatDuration(result.Target.Compile.Duration))
			}
		}
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone, len(results))

	if timed > 0 && totalTarget > 0 {
		fmt.Println("---")
		factor := float64(totalRef) / float64(totalTarget)
		fmt.Printf("On average, compiled programs ran %s%.2fx%s the speed of the interpreter.\n", cBold, factor, cNone)
	}
}

func formatDiff(diff string) string {
	if diff == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if strings.HasPrefix(trimmedLine, "-") {
			builder.WriteString(cRed)
		} else if strings.HasPrefix(trimmedLine, "+") {
			builder.WriteString(cGreen)
		}
		builder.WriteString("    " + line)
		builder.WriteString(cNone)
		builder.WriteString("\n")
	}
	return builder.String()
}

func writeJSONReport(results []*FileTestResult) TestSuiteResults {
	resultsMap := make(TestSuiteResults, len(results))
	for _, r := range results {
		resultsMap[r.File] = r
	}

	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return resultsMap
	}

	outputFile := *outputJSON
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0755); err != nil {
			log.Printf("%s[ERROR]%s Failed to create dir %s: %v\n", cRed, cNone, *jsonDir, err)
		}
		outputFile = filepath.Join(*jsonDir, *outputJSON)
	}

	if err := os.WriteFile(outputFile, jsonData, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, outputFile, err)
	} else {
		fmt.Printf("Full test report saved to %s\n", outputFile)
	}
	return resultsMap
}

func hasFailures(results TestSuiteResults) bool {
	for _, result := range results {
		if result.Status == "FAIL" || result.Status == "ERROR" {
			return true
		}
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			absFile, err := filepath.Abs(file)
			if err != nil {
				continue
			}
			if !seen[absFile] {
				if info, err := os.Stat(absFile); err == nil && info.Mode().IsRegular() {
					allFiles = append(allFiles, absFile)
					seen[absFile] = true
				}
			}
		}
	}
	return allFiles, nil
}
