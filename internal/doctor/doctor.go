// Package doctor provides environment preflight checks for the speech
// engine wrapper.
package doctor

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// ProbeFunc returns a description string or an error if the component is
// unavailable.
type ProbeFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// LibraryPath is the engine shared library to verify on disk.
	LibraryPath string
	// SkipImageCheck skips the PE header inspection of the library.
	SkipImageCheck bool
	// ProbeEntryPoints loads the library and resolves its exports.
	ProbeEntryPoints ProbeFunc
	// SkipProbe skips loading the library (non-Windows hosts).
	SkipProbe bool
	// OutputPath is the WAV destination whose directory must be writable.
	OutputPath string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- engine library ---------------------------------------------------
	if cfg.LibraryPath == "" {
		res.fail("engine library: no path configured")
		fmt.Fprintf(w, "%s engine library: no path configured\n", FailMark)
	} else if _, err := os.Stat(cfg.LibraryPath); err != nil {
		res.fail(fmt.Sprintf("engine library %q: %v", cfg.LibraryPath, err))
		fmt.Fprintf(w, "%s engine library %s: not found\n", FailMark, cfg.LibraryPath)
	} else {
		fmt.Fprintf(w, "%s engine library: %s\n", PassMark, cfg.LibraryPath)

		if cfg.SkipImageCheck {
			fmt.Fprintf(w, "%s library image: skipped\n", PassMark)
		} else if err := checkLibraryImage(cfg.LibraryPath); err != nil {
			res.fail(fmt.Sprintf("library image: %v", err))
			fmt.Fprintf(w, "%s library image: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s library image: 32-bit PE\n", PassMark)
		}
	}

	// ---- entry points -----------------------------------------------------
	if cfg.SkipProbe {
		fmt.Fprintf(w, "%s entry points: skipped\n", PassMark)
	} else if cfg.ProbeEntryPoints == nil {
		res.fail("entry points: no probe configured")
		fmt.Fprintf(w, "%s entry points: no probe configured\n", FailMark)
	} else {
		desc, err := cfg.ProbeEntryPoints()
		if err != nil {
			res.fail(fmt.Sprintf("entry points: %v", err))
			fmt.Fprintf(w, "%s entry points: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s entry points: %s\n", PassMark, desc)
		}
	}

	// ---- output path ------------------------------------------------------
	if cfg.OutputPath != "" {
		dir := filepath.Dir(cfg.OutputPath)
		if info, err := os.Stat(dir); err != nil {
			res.fail(fmt.Sprintf("output directory %q: %v", dir, err))
			fmt.Fprintf(w, "%s output directory %s: not found\n", FailMark, dir)
		} else if !info.IsDir() {
			res.fail(fmt.Sprintf("output directory %q: not a directory", dir))
			fmt.Fprintf(w, "%s output directory %s: not a directory\n", FailMark, dir)
		} else {
			fmt.Fprintf(w, "%s output directory: %s\n", PassMark, dir)
		}
	}

	return res
}

// PE machine types the engine could plausibly ship as. The wrapper only
// supports the 32-bit image.
const (
	machineI386  = 0x014c
	machineAMD64 = 0x8664
)

// checkLibraryImage returns an error unless path is a 32-bit x86 PE image.
func checkLibraryImage(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	machine, err := parsePEMachine(data)
	if err != nil {
		return err
	}
	switch machine {
	case machineI386:
		return nil
	case machineAMD64:
		return fmt.Errorf("64-bit image; the engine must be the 32-bit build")
	default:
		return fmt.Errorf("unsupported machine type 0x%04x", machine)
	}
}

// parsePEMachine extracts the COFF machine field from a PE image.
func parsePEMachine(data []byte) (uint16, error) {
	if len(data) < 0x40 || data[0] != 'M' || data[1] != 'Z' {
		return 0, fmt.Errorf("not a PE image (missing MZ header)")
	}
	peOff := binary.LittleEndian.Uint32(data[0x3c:])
	if int64(peOff)+6 > int64(len(data)) {
		return 0, fmt.Errorf("truncated PE image")
	}
	if string(data[peOff:peOff+4]) != "PE\x00\x00" {
		return 0, fmt.Errorf("not a PE image (missing PE signature)")
	}
	return binary.LittleEndian.Uint16(data[peOff+4:]), nil
}
