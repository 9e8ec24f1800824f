// Package recipe holds the parsed Recipe value and the variable
// substitution pass applied to it at load time. Recipe deserialization
// itself is a thin YAML mapping (name/version/description/sources/...);
// the interesting behavior here is substitution and validation.
package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/mod/semver"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/zibuild/zibuild/internal/errs"
)

// Recipe is immutable after Load returns.
type Recipe struct {
	Name        string
	Version     string
	Description string
	Licenses    []string
	Env         map[string]string
	Sources     []string

	SkipExtract bool
	SkipCheck   bool

	Prepare []string
	Build   []string
	Check   []string
	Install []string

	// Path is the absolute path to the recipe file this value was loaded
	// from. It is not part of the YAML document.
	Path string
}

type rawDocument struct {
	Env     map[string]string `yaml:"env"`
	Package rawPackage        `yaml:"package"`
}

type rawPackage struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Licenses    []string `yaml:"licenses"`
	Sources     []string `yaml:"sources"`
	SkipExtract bool     `yaml:"skip_extract"`
	SkipCheck   bool     `yaml:"skip_check"`
	Prepare     []string `yaml:"prepare"`
	Build       []string `yaml:"build"`
	Check       []string `yaml:"check"`
	Install     []string `yaml:"install"`
}

// Load reads and parses a recipe file, then applies variable substitution
// and validates the invariants from the data model.
func Load(path string) (*Recipe, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.IO("open-file", path, err)
	}

	var doc rawDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, xerrors.Errorf("parsing %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	r := &Recipe{
		Name:        doc.Package.Name,
		Version:     doc.Package.Version,
		Description: doc.Package.Description,
		Licenses:    append([]string(nil), doc.Package.Licenses...),
		Env:         doc.Env,
		Sources:     append([]string(nil), doc.Package.Sources...),
		SkipExtract: doc.Package.SkipExtract,
		SkipCheck:   doc.Package.SkipCheck,
		Prepare:     doc.Package.Prepare,
		Build:       doc.Package.Build,
		Check:       doc.Package.Check,
		Install:     doc.Package.Install,
		Path:        abs,
	}

	if r.Name == "" {
		return nil, errs.Recipe("invalid-recipe", path, "name must not be empty")
	}

	r.substitute()

	if !r.SkipCheck && len(r.Check) == 0 {
		return nil, errs.Recipe("missing-check", r.Name, "skip_check is false but no check commands were given")
	}

	if !semver.IsValid("v" + r.Version) {
		return nil, errs.Recipe("invalid-version", r.Name, fmt.Sprintf("%q is not a semantic-version triple", r.Version))
	}

	return r, nil
}

// substitute replaces every $KEY occurrence (where KEY is an env key and
// the following rune is not Unicode identifier-continue) in name, version,
// description, licenses and sources with its env value. Afterwards, the
// implicit $name/$version variables are substituted into description and
// sources.
func (r *Recipe) substitute() {
	for key, val := range r.Env {
		needle := "$" + key
		r.Name = substituteOne(r.Name, needle, val)
		r.Version = substituteOne(r.Version, needle, val)
		r.Description = substituteOne(r.Description, needle, val)
		for i, lic := range r.Licenses {
			r.Licenses[i] = substituteOne(lic, needle, val)
		}
		for i, src := range r.Sources {
			r.Sources[i] = substituteOne(src, needle, val)
		}
	}

	implicit := map[string]string{"$name": r.Name, "$version": r.Version}
	for needle, val := range implicit {
		r.Description = substituteOne(r.Description, needle, val)
		for i, src := range r.Sources {
			r.Sources[i] = substituteOne(src, needle, val)
		}
	}
}

// substituteOne replaces every occurrence of needle ($KEY) in s with val,
// except where the rune following the occurrence is identifier-continue.
func substituteOne(s, needle, val string) string {
	var b strings.Builder
	for {
		idx := strings.Index(s, needle)
		if idx < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:idx])
		rest := s[idx+len(needle):]
		r, _ := utf8.DecodeRuneInString(rest)
		if r != utf8.RuneError && isIdentifierContinue(r) {
			// identifier-continue: leave this occurrence untouched.
			b.WriteString(needle)
			s = rest
			continue
		}
		b.WriteString(val)
		s = rest
	}
	return b.String()
}

// isIdentifierContinue approximates Unicode XID_Continue: letters, digits
// and underscore may continue an identifier started by $KEY.
func isIdentifierContinue(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// FullName is "<name>-<version>", used to derive build-directory names.
func (r *Recipe) FullName() string {
	return r.Name + "-" + r.Version
}

// Dir is the directory containing the recipe file, used to resolve
// relative file sources.
func (r *Recipe) Dir() string {
	return filepath.Dir(r.Path)
}

// LicenseAccepted reports whether every license of r is present in
// accepted, unless accepted contains the "all" sentinel.
func LicenseAccepted(r *Recipe, accepted map[string]bool) error {
	if accepted["all"] {
		return nil
	}
	for _, lic := range r.Licenses {
		if !accepted[lic] {
			return errs.Recipe("license-not-accepted", r.Name, lic)
		}
	}
	return nil
}

// LoadAll loads, deduplicates (by identifier exactly as given) and sorts a
// batch of recipe identifiers rooted at dir.
func LoadAll(dir string, names []string) ([]*Recipe, error) {
	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		unique = append(unique, n)
	}
	sort.Strings(unique)

	recipes := make([]*Recipe, 0, len(unique))
	for _, n := range unique {
		r, err := Load(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}
	return recipes, nil
}
