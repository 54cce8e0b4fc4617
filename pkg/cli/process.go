// Copyright 2026 The Sshfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
)

var usageTemplate = `{{abstract}}

Usage:

    {{program}} command [arguments]

The commands are:
{{range .}}{{if .Runnable}}
	{{.Name | printf "%-16s"}}   {{.Short}}{{end}}{{end}}

Use '{{program}} help [command]' for more information about a command.

Additional help topics:
{{range .}}{{if not .Runnable}}
	{{.Name | printf "%-16s"}}   {{.Short}}{{end}}{{end}}

Use '{{program}} help [topic]' for more information about that topic.
`

var helpTemplate = `{{if .Runnable}}Usage: {{program}} {{.UsageLine}}

{{else}}Topic: {{.Short}}

{{end}}{{.Long | trim}}
`

var commandUsageTemplate = `Usage:

  {{program}} {{.UsageLine}}

`

// Process dispatches os.Args to the matching command. Invoked without
// arguments, or as 'help', it prints the full usage built from abstract and
// the command list. CLI mistakes (unknown command, bad flags) are reported
// to stderr and exit with status 2; errors from the command itself are
// returned to the caller.
func Process(abstract string, commands Commands) error {
	program, args := os.Args[0], os.Args[1:]

	// Flag errors are rendered through the usage templates, not by the
	// flag package directly.
	for _, cmd := range commands {
		cmd.FlagSet.SetOutput(io.Discard)
	}

	if len(args) == 0 || (len(args) == 1 && (args[0] == "help" || args[0] == "-h")) {
		render(os.Stdout, usageTemplate, program, abstract, commands)
		return nil
	}

	command := args[0]
	if command == "help" {
		if len(args) > 2 {
			fmt.Fprintf(os.Stderr, "Usage: %s help [command]\n\nToo many arguments given.\n", program)
			os.Exit(2)
		}
		for _, cmd := range commands {
			if cmd.Name() == args[1] {
				render(os.Stdout, helpTemplate, program, "", cmd)
				return nil
			}
		}
		fmt.Fprintf(os.Stderr, "Unknown help topic '%s'\n\nRun '%s help' for available topics.\n", args[1], program)
		os.Exit(2)
	}

	for _, cmd := range commands {
		if cmd.Name() != command || !cmd.Runnable() {
			continue
		}

		err := cmd.Run(cmd, args[1:])
		perr, ok := err.(parseError)
		if !ok {
			return err
		}

		// '<command> -h' surfaces as a parse error from the flag package;
		// it is a help request, not a mistake.
		if strings.Contains(perr.Error(), "help requested") {
			render(os.Stdout, commandUsageTemplate, program, "", cmd)
			cmd.FlagSet.SetOutput(os.Stdout)
			cmd.FlagSet.PrintDefaults()
			return nil
		}

		fmt.Fprintln(os.Stderr, perr.Error())
		render(os.Stderr, commandUsageTemplate, program, "", cmd)
		cmd.FlagSet.SetOutput(os.Stderr)
		cmd.FlagSet.PrintDefaults()
		os.Exit(2)
	}

	fmt.Fprintf(os.Stderr, "Unknown command '%s'\n\nRun '%s help' for available commands.\n", command, program)
	os.Exit(2)
	return nil
}

func render(w io.Writer, text, program, abstract string, data interface{}) {
	t := template.New("")
	t.Funcs(template.FuncMap{
		"trim":     strings.TrimSpace,
		"abstract": func() string { return abstract },
		"program":  func() string { return program },
	})
	template.Must(t.Parse(text))
	if err := t.Execute(w, data); err != nil {
		panic(err)
	}
}
