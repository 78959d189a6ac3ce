package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/pattyshack/mao/ir"
)

type OptionType int

const (
	IntOption = OptionType(iota)
	BoolOption
	StringOption
)

func (t OptionType) String() string {
	switch t {
	case IntOption:
		return "int"
	case BoolOption:
		return "bool"
	case StringOption:
		return "string"
	}
	return "<invalid>"
}

// OptionDef declares one typed per-pass option.
type OptionDef struct {
	Name string
	Type OptionType

	IntDefault    int
	BoolDefault   bool
	StringDefault string

	Help string
}

func IntOpt(name string, def int, help string) OptionDef {
	return OptionDef{Name: name, Type: IntOption, IntDefault: def, Help: help}
}

func BoolOpt(name string, def bool, help string) OptionDef {
	return OptionDef{Name: name, Type: BoolOption, BoolDefault: def, Help: help}
}

func StringOpt(name string, def string, help string) OptionDef {
	return OptionDef{
		Name:          name,
		Type:          StringOption,
		StringDefault: def,
		Help:          help,
	}
}

// Options holds a pass's option values, seeded from the declared
// defaults and overridden by config.
type Options struct {
	defs    map[string]OptionDef
	ints    map[string]int
	bools   map[string]bool
	strings map[string]string
}

func newOptions(defs []OptionDef) *Options {
	options := &Options{
		defs:    map[string]OptionDef{},
		ints:    map[string]int{},
		bools:   map[string]bool{},
		strings: map[string]string{},
	}
	for _, def := range defs {
		options.defs[def.Name] = def
		switch def.Type {
		case IntOption:
			options.ints[def.Name] = def.IntDefault
		case BoolOption:
			options.bools[def.Name] = def.BoolDefault
		case StringOption:
			options.strings[def.Name] = def.StringDefault
		}
	}
	return options
}

func (options *Options) require(name string, optType OptionType) {
	def, ok := options.defs[name]
	if !ok {
		panic(fmt.Sprintf("undeclared option %s", name))
	}
	if def.Type != optType {
		panic(fmt.Sprintf(
			"option %s is %s, not %s",
			name,
			def.Type,
			optType))
	}
}

func (options *Options) GetInt(name string) int {
	options.require(name, IntOption)
	return options.ints[name]
}

func (options *Options) GetBool(name string) bool {
	options.require(name, BoolOption)
	return options.bools[name]
}

func (options *Options) GetString(name string) string {
	options.require(name, StringOption)
	return options.strings[name]
}

// Pass is the per-run state handed to a pass body: its options and
// trace channel.
type Pass struct {
	name    string
	options *Options

	log        *logrus.Entry
	traceLevel int
	timed      bool
}

func (pass *Pass) Name() string      { return pass.name }
func (pass *Pass) Options() *Options { return pass.options }
func (pass *Pass) SetTimed()         { pass.timed = true }

func (pass *Pass) TracingLevel() int { return pass.traceLevel }

// Trace reports a diagnostic finding at the given verbosity.  Findings
// never mutate IR and are never fatal.
func (pass *Pass) Trace(level int, format string, args ...interface{}) {
	if level > pass.traceLevel {
		return
	}
	pass.log.Infof(format, args...)
}

// Descriptor registers a pass: its name, option schema, and body.  The
// pass set is closed at build time.
type Descriptor struct {
	Name    string
	Options []OptionDef
	Run     func(*Pass, *ir.Unit, *CFG)
}

var registry = map[string]*Descriptor{}

func Register(descriptor *Descriptor) {
	_, ok := registry[descriptor.Name]
	if ok {
		panic(fmt.Sprintf(
			"duplicate pass registration: %s",
			descriptor.Name))
	}
	registry[descriptor.Name] = descriptor
}

// Descriptors returns the registered passes in name order.
func Descriptors() []*Descriptor {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		result = append(result, registry[name])
	}
	return result
}

// Config carries the driver-chosen trace level and pass option
// overrides.
type Config struct {
	TraceLevel int

	overrides map[string]map[string]interface{}
}

// LoadYAML parses a passName -> {option: value} mapping and checks every
// override against the registered option schemas.
func (config *Config) LoadYAML(data []byte) error {
	overrides := map[string]map[string]interface{}{}
	err := yaml.Unmarshal(data, &overrides)
	if err != nil {
		return errors.Wrap(err, "malformed pass option file")
	}

	for passName, passOverrides := range overrides {
		descriptor, ok := registry[passName]
		if !ok {
			return errors.Errorf("unknown pass %s", passName)
		}

		defs := map[string]OptionDef{}
		for _, def := range descriptor.Options {
			defs[def.Name] = def
		}

		for optionName, value := range passOverrides {
			def, ok := defs[optionName]
			if !ok {
				return errors.Errorf(
					"unknown option %s.%s",
					passName,
					optionName)
			}
			switch def.Type {
			case IntOption:
				if _, ok := value.(int); !ok {
					return errors.Errorf(
						"option %s.%s expects an int value",
						passName,
						optionName)
				}
			case BoolOption:
				if _, ok := value.(bool); !ok {
					return errors.Errorf(
						"option %s.%s expects a bool value",
						passName,
						optionName)
				}
			case StringOption:
				if _, ok := value.(string); !ok {
					return errors.Errorf(
						"option %s.%s expects a string value",
						passName,
						optionName)
				}
			}
		}
	}

	config.overrides = overrides
	return nil
}

func (config *Config) newPass(descriptor *Descriptor) *Pass {
	options := newOptions(descriptor.Options)

	traceLevel := 0
	if config != nil {
		traceLevel = config.TraceLevel

		for name, value := range config.overrides[descriptor.Name] {
			switch typed := value.(type) {
			case int:
				options.ints[name] = typed
			case bool:
				options.bools[name] = typed
			case string:
				options.strings[name] = typed
			}
		}
	}

	return &Pass{
		name:       descriptor.Name,
		options:    options,
		log:        logrus.WithField("pass", descriptor.Name),
		traceLevel: traceLevel,
	}
}

// RunPass runs one registered pass over (unit, cfg), recording elapsed
// time on the trace channel.
func RunPass(
	name string,
	config *Config,
	unit *ir.Unit,
	cfg *CFG,
) {
	descriptor, ok := registry[name]
	if !ok {
		panic(fmt.Sprintf("unknown pass %s", name))
	}

	pass := config.newPass(descriptor)
	pass.SetTimed()

	start := time.Now()
	descriptor.Run(pass, unit, cfg)
	if pass.timed {
		pass.log.WithField("elapsed", time.Since(start)).
			Debug("pass finished")
	}
}
