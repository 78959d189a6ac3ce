package main

import (
	"fmt"
	"os"

	"github.com/pattyshack/gt/parseutil"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pattyshack/mao/analyzer"
	"github.com/pattyshack/mao/ir"
	"github.com/pattyshack/mao/parser"
	"github.com/pattyshack/mao/relax"
	"github.com/pattyshack/mao/x86"
)

const version = "0.1"

type options struct {
	assemblyOutput string
	irOutput       string
	passOptions    string
	traceLevel     int

	// Everything else is forwarded to the front end.
	forwarded []string
}

func usage(out *os.File) {
	fmt.Fprintf(out, "Mao version %s\n", version)
	fmt.Fprintf(
		out,
		"Usage: mao [-mao_o FILE] [-mao_ir FILE] [-mao_opts FILE] [-mao_trace N] [-mao_v]\n")
	fmt.Fprintf(out, "  -mao_o FILE       Prints output to FILE.\n")
	fmt.Fprintf(out, "  -mao_ir FILE      Prints the IR to FILE\n")
	fmt.Fprintf(out, "  -mao_opts FILE    Reads pass options from FILE\n")
	fmt.Fprintf(out, "  -mao_trace N      Sets the trace verbosity\n")
	fmt.Fprintf(out, "  -mao_v            Prints version and usage, then exits\n")
}

// The fixed surface uses single-dash long options with unrecognized
// arguments forwarded verbatim, so flag handling stays by hand.
func parseArgs(args []string) *options {
	result := &options{}

	takeValue := func(idx int, name string) string {
		if idx+1 >= len(args) {
			fmt.Fprintf(os.Stderr, "%s needs an argument\n", name)
			os.Exit(1)
		}
		return args[idx+1]
	}

	idx := 0
	for idx < len(args) {
		switch args[idx] {
		case "-mao_v":
			usage(os.Stderr)
			os.Exit(0)
		case "-mao_o":
			result.assemblyOutput = takeValue(idx, "-mao_o")
			idx += 2
		case "-mao_ir":
			result.irOutput = takeValue(idx, "-mao_ir")
			idx += 2
		case "-mao_opts":
			result.passOptions = takeValue(idx, "-mao_opts")
			idx += 2
		case "-mao_trace":
			value := takeValue(idx, "-mao_trace")
			_, err := fmt.Sscanf(value, "%d", &result.traceLevel)
			if err != nil {
				fmt.Fprintf(os.Stderr, "bad -mao_trace value %s\n", value)
				os.Exit(1)
			}
			idx += 2
		default:
			result.forwarded = append(result.forwarded, args[idx])
			idx++
		}
	}

	return result
}

func loadConfig(opts *options) (*analyzer.Config, error) {
	config := &analyzer.Config{TraceLevel: opts.traceLevel}
	if opts.passOptions == "" {
		return config, nil
	}

	data, err := os.ReadFile(opts.passOptions)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read pass option file")
	}
	err = config.LoadYAML(data)
	if err != nil {
		return nil, err
	}
	return config, nil
}

func writeAssembly(unit *ir.Unit, fileName string) error {
	out, err := os.Create(fileName)
	if err != nil {
		return errors.Wrap(err, "cannot write assembly output")
	}
	defer out.Close()

	fmt.Fprintf(out, "# MaoUnit:\n")
	unit.Print(out)
	fmt.Fprintf(out, "# Symbol table:\n")
	unit.SymbolTable().Print(out)
	fmt.Fprintf(out, "# Done\n")
	return nil
}

func writeIR(unit *ir.Unit, fileName string) error {
	out, err := os.Create(fileName)
	if err != nil {
		return errors.Wrap(err, "cannot write IR output")
	}
	defer out.Close()

	unit.PrintIR(out, true, true, true, true)
	return nil
}

func processFile(
	fileName string,
	opts *options,
	config *analyzer.Config,
) bool {
	content, err := os.ReadFile(fileName)
	if err != nil {
		logrus.WithError(err).Errorf("cannot read %s", fileName)
		return false
	}

	emitter := &parseutil.Emitter{}
	unit := parser.Parse(fileName, content, emitter)
	if emitter.HasErrors() {
		for _, err := range emitter.Errors() {
			fmt.Fprintln(os.Stderr, err)
		}
		return false
	}

	unit.FindFunctions()

	for _, fn := range unit.Functions() {
		cfg := analyzer.BuildCFG(unit, fn)
		analyzer.RunPass("DCE", config, unit, cfg)
		analyzer.RunPass("REDMOV", config, unit, cfg)
	}

	sizer := x86.SizeHelper{}
	for _, section := range unit.Sections() {
		if section.Name() == ir.StartSectionName {
			continue
		}
		sizeMap := relax.SizeMap{}
		total := relax.Relax(unit, section, sizer, sizeMap)
		logrus.WithFields(logrus.Fields{
			"section": section.Name(),
			"bytes":   total,
		}).Debug("relaxed section")
	}

	if opts.assemblyOutput != "" {
		err = writeAssembly(unit, opts.assemblyOutput)
		if err != nil {
			logrus.Error(err)
			return false
		}
	}
	if opts.irOutput != "" {
		err = writeIR(unit, opts.irOutput)
		if err != nil {
			logrus.Error(err)
			return false
		}
	}

	return true
}

func main() {
	opts := parseArgs(os.Args[1:])

	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if opts.traceLevel > 0 {
		logrus.SetLevel(logrus.DebugLevel)
	}

	config, err := loadConfig(opts)
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}

	inputs := []string{}
	for _, arg := range opts.forwarded {
		if len(arg) > 0 && arg[0] == '-' {
			// Assembler flags without an embedded assembler to take them.
			logrus.Debugf("ignoring forwarded flag %s", arg)
			continue
		}
		inputs = append(inputs, arg)
	}

	exitCode := 0
	for _, fileName := range inputs {
		if !processFile(fileName, opts, config) {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}
