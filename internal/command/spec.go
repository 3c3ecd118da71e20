// Package command enumerates the supported toolchain subcommands and their
// per-command execution policy. The table is resolved once at startup; the
// CLI binding and the orchestrator both consult it instead of rebuilding
// per-call dispatch closures.
package command

import (
	"sort"
	"time"
)

const (
	// DefaultTimeout applies to subcommands without a specific entry.
	DefaultTimeout = 30 * time.Second
	// RunTimeout applies to run and test, which build before executing.
	RunTimeout = 60 * time.Second
	// BenchTimeout applies to bench, the slowest supported subcommand.
	BenchTimeout = 120 * time.Second
)

// FinishedMessage replaces an empty check transcript on success.
const FinishedMessage = "Finished `dev` profile [unoptimized + debuginfo] target(s) in 0.00s"

// Spec describes one subcommand's execution policy.
type Spec struct {
	// Name is the toolchain subcommand passed as the first argument.
	Name string
	// Short is the one-line description surfaced in CLI help.
	Short string
	// Timeout is the default deadline when the caller supplies none.
	Timeout time.Duration
	// Extension names the third-party toolchain extension providing the
	// subcommand. Empty for built-ins. Extensions require an installed
	// probe before execution.
	Extension string
	// SubstituteEmptyOutput replaces an empty transcript on success with
	// FinishedMessage.
	SubstituteEmptyOutput bool
	// RequiresArg rejects invocations without at least one argument.
	RequiresArg bool
}

var table = map[string]Spec{
	"build":     {Name: "build", Short: "Compile the current package", Timeout: DefaultTimeout},
	"check":     {Name: "check", Short: "Analyze the current package without building", Timeout: DefaultTimeout, SubstituteEmptyOutput: true},
	"test":      {Name: "test", Short: "Run the tests", Timeout: RunTimeout},
	"run":       {Name: "run", Short: "Run a binary of the local package", Timeout: RunTimeout},
	"bench":     {Name: "bench", Short: "Run the benchmarks", Timeout: BenchTimeout},
	"clean":     {Name: "clean", Short: "Remove the target directory", Timeout: DefaultTimeout},
	"doc":       {Name: "doc", Short: "Build package documentation", Timeout: DefaultTimeout},
	"new":       {Name: "new", Short: "Create a new package", Timeout: DefaultTimeout, RequiresArg: true},
	"update":    {Name: "update", Short: "Update dependencies", Timeout: DefaultTimeout},
	"init":      {Name: "init", Short: "Create a new package in an existing directory", Timeout: DefaultTimeout},
	"add":       {Name: "add", Short: "Add dependencies to the manifest", Timeout: DefaultTimeout},
	"remove":    {Name: "remove", Short: "Remove dependencies from the manifest", Timeout: DefaultTimeout},
	"fmt":       {Name: "fmt", Short: "Format source code", Timeout: DefaultTimeout},
	"clippy":    {Name: "clippy", Short: "Run the linter", Timeout: DefaultTimeout},
	"fix":       {Name: "fix", Short: "Automatically fix lint warnings", Timeout: DefaultTimeout},
	"publish":   {Name: "publish", Short: "Package and upload to the registry", Timeout: DefaultTimeout},
	"install":   {Name: "install", Short: "Install a binary", Timeout: DefaultTimeout},
	"uninstall": {Name: "uninstall", Short: "Uninstall a binary", Timeout: DefaultTimeout},
	"search":    {Name: "search", Short: "Search packages in the registry", Timeout: DefaultTimeout},
	"tree":      {Name: "tree", Short: "Display the dependency tree", Timeout: DefaultTimeout},
	"vendor":    {Name: "vendor", Short: "Vendor all dependencies locally", Timeout: DefaultTimeout},
	"audit":     {Name: "audit", Short: "Audit dependencies for vulnerabilities", Timeout: DefaultTimeout},
	"outdated":  {Name: "outdated", Short: "Show outdated dependencies", Timeout: DefaultTimeout},
	"help":      {Name: "help", Short: "Show toolchain help", Timeout: DefaultTimeout},
	"autodd":    {Name: "autodd", Short: "Manage dependencies automatically", Timeout: DefaultTimeout, Extension: "autodd"},
}

// Lookup returns the spec for name. Unknown names resolve to a default spec
// so the toolchain itself reports the unknown subcommand; found is false in
// that case.
func Lookup(name string) (Spec, bool) {
	if spec, ok := table[name]; ok {
		return spec, true
	}
	return Spec{Name: name, Timeout: DefaultTimeout}, false
}

// All returns the supported specs sorted by name.
func All() []Spec {
	specs := make([]Spec, 0, len(table))
	for _, spec := range table {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
