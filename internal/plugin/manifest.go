package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.json"

// Manifest describes a plugin's metadata and requirements.
type Manifest struct {
	// Identity
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Author      Author `json:"author"`
	License     string `json:"license,omitempty"`
	Homepage    string `json:"homepage,omitempty"`

	// Entry script, relative to the plugin directory.
	Entry string `json:"entry"`

	// Requirements
	Permissions          []string     `json:"permissions,omitempty"`
	Dependencies         Dependencies `json:"dependencies,omitempty"`
	OptionalDependencies Dependencies `json:"optionalDependencies,omitempty"`

	// Include lists paths copied into the data directory on enable.
	Include []string `json:"include,omitempty"`

	UI UI `json:"ui"`

	dir   string
	perms []security.Permission
}

// Author identifies who published the plugin. The manifest may give a plain
// string instead of an object.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Author) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = Author{Name: name}
		return nil
	}
	type plain Author
	return json.Unmarshal(data, (*plain)(a))
}

// Dependency names another plugin and an optional version requirement.
type Dependency struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

// Dependencies accepts either an array of {id, version} objects or a map of
// id to requirement. Map entries are sorted by id.
type Dependencies []Dependency

// UnmarshalJSON implements json.Unmarshaler.
func (d *Dependencies) UnmarshalJSON(data []byte) error {
	var list []Dependency
	if err := json.Unmarshal(data, &list); err == nil {
		*d = list
		return nil
	}
	var byID map[string]string
	if err := json.Unmarshal(data, &byID); err != nil {
		return fmt.Errorf("dependencies must be an array or an object: %w", err)
	}
	out := make(Dependencies, 0, len(byID))
	for id, req := range byID {
		out = append(out, Dependency{ID: id, Version: req})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	*d = out
	return nil
}

// IDs returns the dependency ids in declaration order.
func (d Dependencies) IDs() []string {
	ids := make([]string, len(d))
	for i, dep := range d {
		ids[i] = dep.ID
	}
	return ids
}

// UI holds the plugin's declarative interface contributions.
type UI struct {
	Sidebar  *Sidebar  `json:"sidebar,omitempty"`
	Settings []Setting `json:"settings,omitempty"`
	Pages    []Page    `json:"pages,omitempty"`
}

// Sidebar is the plugin's sidebar entry.
type Sidebar struct {
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
	Page  string `json:"page,omitempty"`
}

// Page is an HTML page shipped with the plugin.
type Page struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Path  string `json:"path"`
}

// Setting types.
const (
	SettingString  = "string"
	SettingNumber  = "number"
	SettingBoolean = "boolean"
	SettingSelect  = "select"
)

// Setting describes one user-editable plugin setting.
type Setting struct {
	Key         string      `json:"key"`
	Type        string      `json:"type"`
	Label       string      `json:"label,omitempty"`
	Description string      `json:"description,omitempty"`
	Default     value.Value `json:"default"`
	Options     []string    `json:"options,omitempty"`
	Min         *float64    `json:"min,omitempty"`
	Max         *float64    `json:"max,omitempty"`
}

var (
	idPattern         = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	settingKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// LoadManifest reads, schema-checks and validates dir/plugin.json.
func LoadManifest(dir string) (*Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve plugin dir: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(abs, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data, abs)
}

// ParseManifest validates manifest JSON. dir may be empty, in which case
// checks that need the plugin directory are skipped.
func ParseManifest(data []byte, dir string) (*Manifest, error) {
	if !json.Valid(data) {
		return nil, &security.ValidationError{Field: "manifest", Reason: "not valid JSON"}
	}
	if err := validateSchema(data); err != nil {
		return nil, schemaError(err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &security.ValidationError{Field: "manifest", Reason: err.Error()}
	}
	m.dir = dir
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

var schemaPrinter = message.NewPrinter(language.English)

// schemaError names the field of the deepest schema violation.
func schemaError(err error) error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &security.ValidationError{Field: "manifest", Reason: err.Error()}
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	field := strings.Join(verr.InstanceLocation, ".")
	reason := verr.ErrorKind.LocalizedString(schemaPrinter)
	if req, ok := verr.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		field = joinField(field, req.Missing[0])
		reason = "is required"
	}
	if field == "" {
		field = "manifest"
	}
	return &security.ValidationError{Field: field, Reason: reason}
}

func joinField(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}

func invalid(field, val, reason string) error {
	return &security.ValidationError{Field: field, Value: val, Reason: reason}
}

// Validate checks the manifest and normalizes permission aliases. The first
// failing field is reported as a *security.ValidationError.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return invalid("id", "", "is required")
	}
	if !idPattern.MatchString(m.ID) || strings.Contains(m.ID, "..") {
		return invalid("id", m.ID, "must contain only letters, digits, '.', '_' or '-' and no '..'")
	}
	if strings.TrimSpace(m.Name) == "" {
		return invalid("name", "", "is required")
	}
	if strings.TrimSpace(m.Version) == "" {
		return invalid("version", "", "is required")
	}
	if _, err := ParseVersion(m.Version); err != nil {
		return invalid("version", m.Version, "must be a semantic version")
	}
	if strings.TrimSpace(m.Description) == "" {
		return invalid("description", "", "is required")
	}
	if strings.TrimSpace(m.Author.Name) == "" {
		return invalid("author.name", "", "is required")
	}
	if err := m.validateEntry(); err != nil {
		return err
	}

	perms := make([]security.Permission, 0, len(m.Permissions))
	seen := make(map[security.Permission]bool, len(m.Permissions))
	for i, tag := range m.Permissions {
		p, ok := security.ParsePermission(tag)
		if !ok {
			return invalid(fmt.Sprintf("permissions[%d]", i), tag, "unknown permission")
		}
		if !seen[p] {
			seen[p] = true
			perms = append(perms, p)
		}
	}
	m.perms = perms

	if err := m.validateDependencies("dependencies", m.Dependencies); err != nil {
		return err
	}
	if err := m.validateDependencies("optionalDependencies", m.OptionalDependencies); err != nil {
		return err
	}
	for i, inc := range m.Include {
		if err := checkPluginPath(inc); err != nil {
			return invalid(fmt.Sprintf("include[%d]", i), inc, err.Error())
		}
	}
	return m.validateUI()
}

func (m *Manifest) validateEntry() error {
	if strings.TrimSpace(m.Entry) == "" {
		return invalid("entry", "", "is required")
	}
	if err := checkPluginPath(m.Entry); err != nil {
		return invalid("entry", m.Entry, err.Error())
	}
	if m.dir == "" {
		return nil
	}
	path, err := security.NewScope("plugin", m.dir, true).Resolve(m.Entry)
	if err != nil {
		return invalid("entry", m.Entry, "escapes the plugin directory")
	}
	info, err := os.Stat(path)
	if err != nil {
		return invalid("entry", m.Entry, "file does not exist")
	}
	if !info.Mode().IsRegular() {
		return invalid("entry", m.Entry, "is not a regular file")
	}
	return nil
}

// checkPluginPath rejects absolute paths and parent segments.
func checkPluginPath(p string) error {
	if err := security.CheckRelative(p); err != nil {
		var verr *security.ValidationError
		if errors.As(err, &verr) {
			return errors.New(verr.Reason)
		}
		return err
	}
	return nil
}

func (m *Manifest) validateDependencies(field string, deps Dependencies) error {
	seen := make(map[string]bool, len(deps))
	for _, dep := range deps {
		name := field + "." + dep.ID
		if !idPattern.MatchString(dep.ID) || strings.Contains(dep.ID, "..") {
			return invalid(field, dep.ID, "invalid plugin id")
		}
		if dep.ID == m.ID {
			return invalid(name, dep.ID, "a plugin cannot depend on itself")
		}
		if seen[dep.ID] {
			return invalid(name, dep.ID, "listed twice")
		}
		seen[dep.ID] = true
		if _, err := ParseRequirement(dep.Version); err != nil {
			return invalid(name, dep.Version, err.Error())
		}
	}
	return nil
}

func (m *Manifest) validateUI() error {
	keys := make(map[string]bool, len(m.UI.Settings))
	for i, s := range m.UI.Settings {
		field := fmt.Sprintf("ui.settings[%d]", i)
		if !settingKeyPattern.MatchString(s.Key) {
			return invalid(field+".key", s.Key, "invalid setting key")
		}
		if keys[s.Key] {
			return invalid(field+".key", s.Key, "duplicate setting key")
		}
		keys[s.Key] = true
		if s.Type == SettingSelect && len(s.Options) == 0 {
			return invalid(field+".options", "", "select settings need options")
		}
		if !s.Default.IsNull() {
			if _, err := s.coerce(s.Default); err != nil {
				return invalid(field+".default", s.Default.String(), err.Error())
			}
		}
	}

	pages := make(map[string]bool, len(m.UI.Pages))
	for i, p := range m.UI.Pages {
		if err := checkPluginPath(p.Path); err != nil {
			return invalid(fmt.Sprintf("ui.pages[%d].path", i), p.Path, err.Error())
		}
		pages[p.ID] = true
	}
	if sb := m.UI.Sidebar; sb != nil && sb.Page != "" && !pages[sb.Page] {
		return invalid("ui.sidebar.page", sb.Page, "no page with that id")
	}
	return nil
}

// coerce checks v against the setting type.
func (s Setting) coerce(v value.Value) (value.Value, error) {
	switch s.Type {
	case SettingString:
		if _, ok := v.Str(); !ok {
			return value.Nil, errors.New("expected a string")
		}
	case SettingBoolean:
		if _, ok := v.Bool(); !ok {
			return value.Nil, errors.New("expected a boolean")
		}
	case SettingNumber:
		f, ok := v.Float()
		if !ok {
			return value.Nil, errors.New("expected a number")
		}
		if s.Min != nil && f < *s.Min {
			return value.Nil, fmt.Errorf("must be at least %v", *s.Min)
		}
		if s.Max != nil && f > *s.Max {
			return value.Nil, fmt.Errorf("must be at most %v", *s.Max)
		}
	case SettingSelect:
		str, ok := v.Str()
		if !ok {
			return value.Nil, errors.New("expected a string")
		}
		for _, opt := range s.Options {
			if opt == str {
				return v, nil
			}
		}
		return value.Nil, fmt.Errorf("must be one of %s", strings.Join(s.Options, ", "))
	default:
		return value.Nil, fmt.Errorf("unknown setting type %q", s.Type)
	}
	return v, nil
}

// DefaultSettings returns a map of every setting that declares a default.
func (m *Manifest) DefaultSettings() value.Value {
	out := make(map[string]value.Value, len(m.UI.Settings))
	for _, s := range m.UI.Settings {
		if !s.Default.IsNull() {
			out[s.Key] = s.Default.Clone()
		}
	}
	return value.MapOf(out)
}

// ApplySettings validates values against the declared settings and returns
// them merged over the defaults. Unknown keys are rejected.
func (m *Manifest) ApplySettings(values value.Value) (value.Value, error) {
	if values.IsNull() {
		return m.DefaultSettings(), nil
	}
	if values.Kind() != value.Map {
		return value.Nil, invalid("settings", "", "must be an object")
	}
	byKey := make(map[string]Setting, len(m.UI.Settings))
	for _, s := range m.UI.Settings {
		byKey[s.Key] = s
	}

	out := m.DefaultSettings().Fields()
	if out == nil {
		out = make(map[string]value.Value)
	}
	for _, key := range values.Keys() {
		s, ok := byKey[key]
		if !ok {
			return value.Nil, invalid("settings."+key, "", "unknown setting")
		}
		v := values.Get(key)
		if v.IsNull() {
			delete(out, key)
			continue
		}
		cv, err := s.coerce(v)
		if err != nil {
			return value.Nil, invalid("settings."+key, v.String(), err.Error())
		}
		out[key] = cv
	}
	return value.MapOf(out), nil
}

// Dir returns the absolute plugin directory, or "" when parsed without one.
func (m *Manifest) Dir() string {
	return m.dir
}

// EntryPath returns the absolute path of the entry script.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.dir, filepath.FromSlash(m.Entry))
}

// Granted returns the normalized, de-duplicated permissions.
func (m *Manifest) Granted() []security.Permission {
	return append([]security.Permission(nil), m.perms...)
}

// HasPermission reports whether the manifest requests p.
func (m *Manifest) HasPermission(p security.Permission) bool {
	for _, granted := range m.perms {
		if granted == p {
			return true
		}
	}
	return false
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.ID, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m
	clone.Permissions = append([]string(nil), m.Permissions...)
	clone.Dependencies = append(Dependencies(nil), m.Dependencies...)
	clone.OptionalDependencies = append(Dependencies(nil), m.OptionalDependencies...)
	clone.Include = append([]string(nil), m.Include...)
	clone.perms = append([]security.Permission(nil), m.perms...)

	if m.UI.Sidebar != nil {
		sb := *m.UI.Sidebar
		clone.UI.Sidebar = &sb
	}
	clone.UI.Pages = append([]Page(nil), m.UI.Pages...)
	if m.UI.Settings != nil {
		clone.UI.Settings = make([]Setting, len(m.UI.Settings))
		for i, s := range m.UI.Settings {
			s.Default = s.Default.Clone()
			s.Options = append([]string(nil), s.Options...)
			clone.UI.Settings[i] = s
		}
	}
	return &clone
}
