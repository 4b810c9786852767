// Package configreader fills a config struct from, in increasing order of
// precedence, a TOML or YAML file, command-line flags, and the environment.
//
// Each exported field is a parameter named by its `name` tag, or its field
// name in snake case. Fields must be strings, bools, ints, or implement
// encoding.TextMarshaler and encoding.TextUnmarshaler on their pointer.
package configreader

import (
	"encoding"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"fknsrs.biz/p/recall/internal/stringutil"
)

// ErrHelp is returned by Read when -help or -h was passed. Usage has already
// been printed.
var ErrHelp = flag.ErrHelp

const configParameter = "config"

func Read(program string, arguments, environment []string, out interface{}) error {
	params, err := parameters(out)
	if err != nil {
		return fmt.Errorf("configreader.Read: %w", err)
	}

	env := newEnvironment(program, environment)

	configPath, ok := lookupArgument(arguments, configParameter)
	if !ok {
		configPath, ok = env.lookup(configParameter)
	}
	if !ok {
		for _, p := range params {
			if p.name == configParameter {
				configPath, ok = p.text()
			}
		}
	}
	if ok && configPath != "" {
		if err := readFile(configPath, out); err != nil {
			return fmt.Errorf("configreader.Read: %w", err)
		}
	}

	if err := readArguments(program, arguments, params); err != nil {
		return fmt.Errorf("configreader.Read: could not read command-line flags: %w", err)
	}

	for _, p := range params {
		s, ok := env.lookup(p.name)
		if !ok {
			continue
		}

		if err := p.set(s); err != nil {
			return fmt.Errorf("configreader.Read: could not read environment variables: %w", err)
		}
	}

	return nil
}

// WithDotEnv returns environment extended with the variables defined in the
// given dotenv files. Variables already present in environment keep their
// value, and files that don't exist are skipped.
func WithDotEnv(environment []string, paths ...string) ([]string, error) {
	seen := make(map[string]bool)
	for _, e := range environment {
		if k, _, ok := strings.Cut(e, "="); ok {
			seen[strings.ToLower(k)] = true
		}
	}

	out := append([]string(nil), environment...)

	for _, path := range paths {
		m, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("configreader.WithDotEnv: could not read %q: %w", path, err)
		}

		for k, v := range m {
			if seen[strings.ToLower(k)] {
				continue
			}

			seen[strings.ToLower(k)] = true
			out = append(out, k+"="+v)
		}
	}

	return out, nil
}

// parameters

var textType = reflect.TypeOf((*interface {
	encoding.TextMarshaler
	encoding.TextUnmarshaler
})(nil)).Elem()

type parameter struct {
	name  string
	field string
	help  string
	value reflect.Value
}

func parameters(out interface{}) ([]parameter, error) {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, fmt.Errorf("value must be a non-nil pointer; was instead %T", out)
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("value must be a pointer to a struct; was instead %T", out)
	}

	var params []parameter

	for i := 0; i < rv.NumField(); i++ {
		f := rv.Type().Field(i)
		if !f.IsExported() {
			continue
		}

		name := f.Tag.Get("name")
		if name == "-" {
			continue
		}
		if name == "" {
			name = stringutil.PascalToSnake(f.Name)
		}

		p := parameter{name: name, field: f.Name, help: f.Tag.Get("help"), value: rv.Field(i)}

		switch f.Type.Kind() {
		case reflect.String, reflect.Bool, reflect.Int:
			if reflect.PointerTo(f.Type).Implements(textType) {
				break
			}
			if f.Type.PkgPath() != "" {
				return nil, fmt.Errorf("parameter %s (%s) has unsupported type %s", f.Name, name, f.Type)
			}
		default:
			if !reflect.PointerTo(f.Type).Implements(textType) {
				return nil, fmt.Errorf("parameter %s (%s) has unsupported type %s", f.Name, name, f.Type)
			}
		}

		params = append(params, p)
	}

	return params, nil
}

func (p parameter) isText() bool {
	return reflect.PointerTo(p.value.Type()).Implements(textType)
}

func (p parameter) text() (string, bool) {
	if p.isText() {
		d, err := p.value.Addr().Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", false
		}
		return string(d), true
	}

	switch p.value.Kind() {
	case reflect.String:
		return p.value.String(), true
	case reflect.Bool:
		return strconv.FormatBool(p.value.Bool()), true
	case reflect.Int:
		return strconv.FormatInt(p.value.Int(), 10), true
	}

	return "", false
}

func (p parameter) set(s string) error {
	if p.isText() {
		if err := p.value.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return fmt.Errorf("could not unmarshal parameter %s (%s): %w", p.field, p.name, err)
		}
		return nil
	}

	switch p.value.Kind() {
	case reflect.String:
		p.value.SetString(s)
	case reflect.Bool:
		b, err := stringutil.ParseBool(s)
		if err != nil {
			return fmt.Errorf("could not parse parameter %s (%s) as bool: %w", p.field, p.name, err)
		}
		p.value.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("could not parse parameter %s (%s) as int: %w", p.field, p.name, err)
		}
		p.value.SetInt(int64(n))
	}

	return nil
}

// flagValue adapts a parameter to flag.Value.
type flagValue struct{ p parameter }

func (v flagValue) String() string {
	if !v.p.value.IsValid() {
		return ""
	}
	s, _ := v.p.text()
	return s
}

func (v flagValue) Set(s string) error { return v.p.set(s) }

func (v flagValue) IsBoolFlag() bool {
	return !v.p.isText() && v.p.value.Kind() == reflect.Bool
}

// sources

func lookupArgument(arguments []string, name string) (string, bool) {
	for i, arg := range arguments {
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		a := strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")

		if a == name && i+1 < len(arguments) {
			return arguments[i+1], true
		}
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v, true
		}
	}

	return "", false
}

// environment matches names case-insensitively, preferring a variable
// prefixed with the program name, e.g. RECALL_LOG_LEVEL over LOG_LEVEL.
type environment struct {
	prefix string
	values map[string]string
}

func newEnvironment(program string, env []string) environment {
	e := environment{
		prefix: strings.ToLower(strings.TrimSuffix(filepath.Base(program), filepath.Ext(program))) + "_",
		values: make(map[string]string),
	}

	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}

		k = strings.ToLower(k)
		if _, dup := e.values[k]; !dup {
			e.values[k] = v
		}
	}

	return e
}

func (e environment) lookup(name string) (string, bool) {
	name = strings.ToLower(name)

	if e.prefix != "_" {
		if v, ok := e.values[e.prefix+name]; ok {
			return v, true
		}
	}

	v, ok := e.values[name]
	return v, ok
}

// files

func readFile(filePath string, out interface{}) error {
	fd, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("readFile: could not open config file: %w", err)
	}
	defer fd.Close()

	switch ext := filepath.Ext(filePath); ext {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(fd).Decode(out)
	case ".toml":
		err = toml.NewDecoder(fd).Decode(out)
	default:
		return fmt.Errorf("readFile: could not determine file type for %q", filePath)
	}
	if err != nil {
		return fmt.Errorf("readFile: could not parse %q: %w", filePath, err)
	}

	return nil
}

// flags

func readArguments(program string, arguments []string, params []parameter) error {
	flagSet := flag.NewFlagSet(program, flag.ContinueOnError)

	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Usage: %s [OPTIONS]\n\nEvery option can also be set with an environment variable of the same name.\n\n", program)
		flagSet.PrintDefaults()
	}

	for _, p := range params {
		flagSet.Var(flagValue{p}, p.name, p.help)
	}

	return flagSet.Parse(arguments)
}
