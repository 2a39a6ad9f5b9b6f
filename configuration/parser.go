package configuration

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/tigrisdata/s3fs/log"
	"gopkg.in/yaml.v2"
)

// Version is a major/minor version pair of the form Major.Minor
// Major version upgrades indicate structure or type changes
// Minor version upgrades should be strictly additive
type Version string

// MajorMinorVersion constructs a Version from its Major and Minor components
func MajorMinorVersion(major, minor uint) Version {
	return Version(fmt.Sprintf("%d.%d", major, minor))
}

func (version Version) major() (uint, error) {
	majorPart, _, _ := strings.Cut(string(version), ".")
	major, err := strconv.ParseUint(majorPart, 10, 0)
	return uint(major), err
}

func (version Version) minor() (uint, error) {
	_, minorPart, ok := strings.Cut(string(version), ".")
	if !ok {
		return 0, fmt.Errorf("version %q has no minor component", string(version))
	}
	minor, err := strconv.ParseUint(minorPart, 10, 0)
	return uint(minor), err
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
// Unmarshals a string of the form X.Y into a Version, validating that X and Y can represent unsigned integers
func (version *Version) UnmarshalYAML(unmarshal func(any) error) error {
	var versionString string
	if err := unmarshal(&versionString); err != nil {
		return err
	}

	newVersion := Version(versionString)
	if _, err := newVersion.major(); err != nil {
		return err
	}
	if _, err := newVersion.minor(); err != nil {
		return err
	}

	*version = newVersion
	return nil
}

// VersionedParseInfo defines how a specific version of a configuration should
// be parsed into the current version
type VersionedParseInfo struct {
	// Version is the version which this parsing information relates to
	Version Version
	// ParseAs defines the type which a configuration file of this version
	// should be parsed into
	ParseAs reflect.Type
	// ConversionFunc defines a method for converting the parsed configuration
	// (of type ParseAs) into the current configuration version
	// Note: this method signature is very unclear with the absence of generics
	ConversionFunc func(any) (any, error)
}

type envVar struct {
	name  string
	value string
}

type envVars []envVar

func (a envVars) Len() int           { return len(a) }
func (a envVars) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a envVars) Less(i, j int) bool { return a[i].name < a[j].name }

// Parser can be used to parse a configuration file and environment of a defined
// version into a unified output structure
type Parser struct {
	prefix  string
	mapping map[Version]VersionedParseInfo
	env     envVars
}

// NewParser returns a *Parser with the given environment prefix which handles
// versioned configurations which match the given parseInfos
func NewParser(prefix string, parseInfos []VersionedParseInfo) *Parser {
	p := Parser{prefix: prefix, mapping: make(map[Version]VersionedParseInfo)}

	for _, parseInfo := range parseInfos {
		p.mapping[parseInfo.Version] = parseInfo
	}

	for _, env := range os.Environ() {
		name, value, _ := strings.Cut(env, "=")
		p.env = append(p.env, envVar{name: name, value: value})
	}

	// We must sort the environment variables lexically by name so that
	// more specific variables are applied before less specific ones
	// (i.e. S3FS_STORAGE before S3FS_STORAGE_S3_BUCKET).
	sort.Sort(p.env)

	return &p
}

// Parse reads in the given []byte and environment and writes the resulting
// configuration into the input v
//
// Environment variables may be used to override configuration parameters other
// than version, following the scheme below:
// v.Abc may be replaced by the value of PREFIX_ABC,
// v.Abc.Xyz may be replaced by the value of PREFIX_ABC_XYZ, and so forth
func (p *Parser) Parse(in []byte, v any) error {
	var versionedStruct struct {
		Version Version
	}

	if err := yaml.Unmarshal(in, &versionedStruct); err != nil {
		return err
	}

	parseInfo, ok := p.mapping[versionedStruct.Version]
	if !ok {
		return fmt.Errorf("unsupported version: %q", versionedStruct.Version)
	}

	parseAs := reflect.New(parseInfo.ParseAs)
	if err := yaml.Unmarshal(in, parseAs.Interface()); err != nil {
		return err
	}

	prefix := strings.ToUpper(p.prefix) + "_"
	for _, envVar := range p.env {
		pathStr := envVar.name
		if !strings.HasPrefix(pathStr, prefix) || p.ignored(strings.TrimPrefix(pathStr, prefix)) {
			continue
		}
		path := strings.Split(pathStr, "_")

		if err := p.overwriteFields(parseAs, pathStr, path[1:], envVar.value); err != nil {
			return err
		}
	}

	c, err := parseInfo.ConversionFunc(parseAs.Interface())
	if err != nil {
		return err
	}
	reflect.ValueOf(v).Elem().Set(reflect.Indirect(reflect.ValueOf(c)))
	return nil
}

// ignored reports whether an environment variable sharing the prefix is
// read elsewhere: feature flags and the location of the file itself.
func (*Parser) ignored(name string) bool {
	return strings.HasPrefix(name, "FF_") || name == "CONFIGURATION_PATH"
}

// overwriteFields replaces configuration values with alternate values specified
// through the environment. Precondition: an empty path slice must never be
// passed in.
func (p *Parser) overwriteFields(v reflect.Value, fullpath string, path []string, payload string) error {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			panic("encountered nil pointer while handling environment variable " + fullpath)
		}
		v = reflect.Indirect(v)
	}
	switch v.Kind() {
	case reflect.Struct:
		return p.overwriteStruct(v, fullpath, path, payload)
	case reflect.Map:
		return p.overwriteMap(v, fullpath, path, payload)
	case reflect.Interface:
		if v.NumMethod() == 0 {
			if !v.IsNil() {
				return p.overwriteFields(v.Elem(), fullpath, path, payload)
			}
			// Interface was empty; create an implicit map
			var template map[string]any
			wrappedV := reflect.MakeMap(reflect.TypeOf(template))
			v.Set(wrappedV)
			return p.overwriteMap(wrappedV, fullpath, path, payload)
		}
	}
	return nil
}

func (p *Parser) overwriteStruct(v reflect.Value, fullpath string, path []string, payload string) error {
	// Generate case-insensitive map of struct fields
	byUpperCase := make(map[string]int)
	for i := 0; i < v.NumField(); i++ {
		sf := v.Type().Field(i)
		upper := strings.ToUpper(sf.Name)
		if _, present := byUpperCase[upper]; present {
			panic(fmt.Sprintf("field name collision in configuration object: %s", sf.Name))
		}
		byUpperCase[upper] = i
	}

	fieldIndex, present := byUpperCase[path[0]]
	if !present {
		log.GetLogger().WithField("variable", fullpath).Warn("ignoring unrecognized environment variable")
		return nil
	}
	field := v.Field(fieldIndex)
	sf := v.Type().Field(fieldIndex)

	if len(path) == 1 {
		// We're at the end of the path - set the field
		fieldVal := reflect.New(sf.Type)
		if err := yaml.Unmarshal([]byte(payload), fieldVal.Interface()); err != nil {
			return fmt.Errorf("parsing environment variable %s: %w", fullpath, err)
		}
		field.Set(reflect.Indirect(fieldVal))
		return nil
	}

	// If the field is nil, reserve space
	switch sf.Type.Kind() {
	case reflect.Map:
		if field.IsNil() {
			field.Set(reflect.MakeMap(sf.Type))
		}
	case reflect.Ptr:
		if field.IsNil() {
			field.Set(reflect.New(sf.Type.Elem()))
		}
	}

	return p.overwriteFields(field, fullpath, path[1:], payload)
}

// matchKey finds the key of m addressed by the start of path. Keys may
// contain underscores themselves, as driver names like s3_v2 do, so the
// longest matching key wins. It returns the number of path elements consumed.
func matchKey(m reflect.Value, path []string) (reflect.Value, int) {
	var (
		best  reflect.Value
		width int
	)
	for _, k := range m.MapKeys() {
		parts := strings.Count(k.String(), "_") + 1
		if parts > len(path) || parts <= width {
			continue
		}
		if strings.ToUpper(k.String()) == strings.Join(path[:parts], "_") {
			best, width = k, parts
		}
	}
	return best, width
}

func (p *Parser) overwriteMap(m reflect.Value, fullpath string, path []string, payload string) error {
	if m.Type().Key().Kind() != reflect.String {
		// non-string keys unsupported
		log.GetLogger().WithField("variable", fullpath).Warn("ignoring environment variable involving map with non-string keys")
		return nil
	}

	key := strings.ToLower(path[0])
	rest := path[1:]
	if k, width := matchKey(m, path); width > 0 {
		key, rest = k.String(), path[width:]
		mapValue := m.MapIndex(k)
		// If the existing value is nil, we want to recreate it instead of
		// using this value.
		nilValue := (mapValue.Kind() == reflect.Ptr || mapValue.Kind() == reflect.Interface || mapValue.Kind() == reflect.Map) && mapValue.IsNil()
		if len(rest) > 0 && !nilValue {
			return p.overwriteFields(mapValue, fullpath, rest, payload)
		}
	}

	// (Re)create this key
	var mapValue reflect.Value
	if m.Type().Elem().Kind() == reflect.Map {
		mapValue = reflect.MakeMap(m.Type().Elem())
	} else {
		mapValue = reflect.New(m.Type().Elem())
	}
	if len(rest) > 0 {
		if err := p.overwriteFields(mapValue, fullpath, rest, payload); err != nil {
			return err
		}
	} else {
		if err := yaml.Unmarshal([]byte(payload), mapValue.Interface()); err != nil {
			return fmt.Errorf("parsing environment variable %s: %w", fullpath, err)
		}
	}

	m.SetMapIndex(reflect.ValueOf(key), reflect.Indirect(mapValue))
	return nil
}
