package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var fmtCheck bool

var fmtCmd = &cobra.Command{
	Use:   "fmt [paths...]",
	Short: "Format Pkl configuration files",
	Long: `Rewrites .pkl files to a canonical style: trailing whitespace
trimmed, at most one consecutive blank line, and a trailing newline.

With no arguments, formats every .pkl file under the current directory.
Use --check to report unformatted files without rewriting them.`,
	RunE: runFmt,
}

func init() {
	fmtCmd.Flags().BoolVar(&fmtCheck, "check", false, "Report unformatted files and exit non-zero instead of rewriting")
}

func runFmt(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		paths = []string{"."}
	}

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if info.IsDir() {
			entries, err := findPklFiles(p)
			if err != nil {
				return err
			}
			files = append(files, entries...)
		} else {
			files = append(files, p)
		}
	}

	if len(files) == 0 {
		fmt.Println("No .pkl files found.")
		return nil
	}

	unformatted := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		formatted := formatPkl(string(data))
		if string(data) == formatted {
			continue
		}
		unformatted++
		if fmtCheck {
			fmt.Printf("%s: not formatted\n", file)
			continue
		}
		if err := os.WriteFile(file, []byte(formatted), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", file, err)
		}
		fmt.Printf("%s: formatted\n", file)
	}

	if fmtCheck && unformatted > 0 {
		return fmt.Errorf("%d file(s) not formatted", unformatted)
	}
	if unformatted == 0 {
		fmt.Printf("All %d file(s) are properly formatted.\n", len(files))
	} else {
		fmt.Printf("Formatted %d file(s).\n", unformatted)
	}
	return nil
}

// findPklFiles walks a directory tree for .pkl files, skipping hidden
// directories such as .terrane and .git.
func findPklFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".pkl") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// formatPkl applies the formatting rules to Pkl source.
func formatPkl(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	result := strings.Join(lines, "\n")

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}
	if !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	return result
}
