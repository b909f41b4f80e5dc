// Command gen is the go:generate entry point. It writes the context
// validation package of one schema file:
//
//	//go:generate go run github.com/ninja0404/ctxgen/internal/gen -schema program.yaml -out . -pkg program
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ninja0404/ctxgen/pkg/codegen"
	"github.com/ninja0404/ctxgen/pkg/config"
	"github.com/ninja0404/ctxgen/pkg/schema"
	"github.com/ninja0404/ctxgen/pkg/types"
)

func main() {
	schemaPath := flag.String("schema", "", "path to schema yaml")
	outDir := flag.String("out", "", "output directory")
	pkgName := flag.String("pkg", "", "package name")
	pkgPath := flag.String("pkg-path", "", "import path of the generated package")
	docs := flag.String("docs", "", "also write markdown docs to this file")
	strict := flag.Bool("strict", false, "fail on dependency cycles")
	stamp := flag.Bool("timestamp", false, "add a generated-at line to headers")
	verbose := flag.Bool("v", false, "log lowering at debug level")
	flag.Parse()

	if *schemaPath == "" || *outDir == "" || *pkgName == "" {
		fail("schema, out, and pkg flags are required")
	}

	prog, err := schema.Load(*schemaPath)
	if err != nil {
		fail("%v", err)
	}

	cfg := config.DefaultGeneratorConfig()
	cfg.Package = *pkgName
	cfg.PackagePath = *pkgPath
	cfg.OutDir = *outDir
	cfg.StrictCycles = *strict
	cfg.Timestamp = *stamp
	if *verbose {
		cfg.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}

	g := codegen.New(prog, cfg)
	written, err := g.Write()
	if err != nil {
		var genErr *types.GenerationError
		if errors.As(err, &genErr) {
			fail("%s: %v", *schemaPath, genErr)
		}
		fail("generate: %v", err)
	}
	for _, path := range written {
		fmt.Printf("generated %s\n", path)
	}

	if *docs == "" {
		return
	}
	plans, err := g.Plans()
	if err != nil {
		fail("plans: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(*docs), 0o755); err != nil {
		fail("mkdir docs: %v", err)
	}
	if err := os.WriteFile(*docs, g.Markdown(plans), 0o644); err != nil {
		fail("write %s: %v", *docs, err)
	}
	fmt.Printf("generated %s\n", *docs)
}

func fail(formatStr string, args ...interface{}) {
	msg := fmt.Sprintf(formatStr, args...)
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
