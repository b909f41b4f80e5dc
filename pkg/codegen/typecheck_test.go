package codegen

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"

	"github.com/ninja0404/ctxgen/pkg/config"
	"github.com/ninja0404/ctxgen/pkg/schema"
)

// TestGeneratedPackageTypeChecks writes a generated package inside this
// module, so its runtime and types imports resolve, and type-checks it.
func TestGeneratedPackageTypeChecks(t *testing.T) {
	if testing.Short() {
		t.Skip("loads packages with the go command")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go command not available")
	}

	prog, err := schema.Parse([]byte(programHeader + vaultContexts + moreContexts))
	require.NoError(t, err)

	dir, err := os.MkdirTemp(".", "generated")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.DefaultGeneratorConfig()
	cfg.OutDir = dir
	written, err := New(prog, cfg).Write()
	require.NoError(t, err)
	require.Len(t, written, 8)

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	pkgs, err := packages.Load(&packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax |
			packages.NeedTypes | packages.NeedTypesInfo | packages.NeedImports,
		Dir: abs,
	}, ".")
	require.NoError(t, err)
	require.Len(t, pkgs, 1)

	var msgs []string
	for _, e := range pkgs[0].Errors {
		msgs = append(msgs, e.Error())
	}
	require.Empty(t, msgs, strings.Join(msgs, "\n"))
	require.Equal(t, "program", pkgs[0].Name)
	for _, name := range []string{"TryVote", "TryOpen", "TryDeposit", "TryIncrement", "LoadCounter"} {
		require.NotNil(t, pkgs[0].Types.Scope().Lookup(name), name)
	}
}
