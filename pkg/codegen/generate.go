package codegen

import (
	"fmt"
	"os"
	"path/filepath"
)

// File is one generated source file.
type File struct {
	Name    string
	Content []byte
}

// Files lowers every context and prints the generated package.
func (g *Generator) Files() ([]File, []*Plan, error) {
	plans, err := g.Plans()
	if err != nil {
		return nil, nil, err
	}

	var files []File
	add := func(name string, content []byte, err error) error {
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		files = append(files, File{Name: name, Content: content})
		return nil
	}

	src, err := g.ProgramSource()
	if err := add("program.go", src, err); err != nil {
		return nil, nil, err
	}
	src, err = g.StateSource()
	if err := add("state.go", src, err); err != nil {
		return nil, nil, err
	}
	src, err = g.ErrorsSource()
	if err := add("errors.go", src, err); err != nil {
		return nil, nil, err
	}
	for _, p := range plans {
		src, err := g.ContextSource(p)
		if err := add(ContextFile(p.Context), src, err); err != nil {
			return nil, nil, err
		}
	}
	return files, plans, nil
}

// Write generates the package into the configured output directory and
// returns the written paths.
func (g *Generator) Write() ([]string, error) {
	files, _, err := g.Files()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(g.cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir out: %w", err)
	}
	written := make([]string, 0, len(files))
	for _, f := range files {
		target := filepath.Join(g.cfg.OutDir, f.Name)
		if err := os.WriteFile(target, f.Content, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", target, err)
		}
		g.log.Info().Str("file", target).Msg("generated")
		written = append(written, target)
	}
	return written, nil
}
