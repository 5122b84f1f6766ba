package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raedjah1/adtbot/internal/decision"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// commandFile is the YAML form of a command, its environment and, for
// decide, the candidate elements.
type commandFile struct {
	Command     workflow.ParsedCommand       `yaml:"command"`
	Environment workflow.EnvironmentSnapshot `yaml:"environment"`
	Elements    []decision.CandidateElement  `yaml:"elements"`
}

// commandInput holds the flags shared by plan, decide and run.
type commandInput struct {
	file         string
	text         string
	intent       string
	platform     string
	action       string
	complexity   string
	confidence   float64
	credentials  []string
	params       map[string]string
	location     string
	requiresAuth bool
	envErrors    []string
}

func (in *commandInput) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&in.file, "file", "f", "", "YAML file with command, environment and elements sections")
	f.StringVar(&in.text, "text", "", "original command text")
	f.StringVarP(&in.intent, "intent", "i", "", "intent tag, e.g. post_content, search, login")
	f.StringVarP(&in.platform, "platform", "p", "", "target platform, e.g. twitter")
	f.StringVar(&in.action, "action", "", "action variant, e.g. reply or schedule")
	f.StringVar(&in.complexity, "complexity", string(workflow.ComplexityModerate), "SIMPLE, MODERATE, COMPLEX or ADVANCED")
	f.Float64Var(&in.confidence, "confidence", 1, "parser confidence between 0 and 1")
	f.StringSliceVar(&in.credentials, "credential", nil, "required credential type (repeatable)")
	f.StringToStringVar(&in.params, "param", nil, "command parameter as key=value (repeatable)")
	f.StringVar(&in.location, "location", "", "current location of the automation target")
	f.BoolVar(&in.requiresAuth, "requires-auth", false, "the current location requires authentication")
	f.StringSliceVar(&in.envErrors, "env-error", nil, "error text detected in the environment (repeatable)")
}

// resolve builds the command, environment and elements from the file, if
// any, with explicitly set flags taking precedence.
func (in *commandInput) resolve(cmd *cobra.Command) (*commandFile, error) {
	var cf commandFile
	cf.Command.Complexity = workflow.ComplexityModerate
	cf.Command.Confidence = 1

	if in.file != "" {
		data, err := os.ReadFile(in.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read command file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("invalid command file %s: %w", in.file, err)
		}
	}

	flags := cmd.Flags()
	set := func(name string) bool { return flags.Changed(name) }

	c := &cf.Command
	if set("text") {
		c.Text = in.text
	}
	if set("intent") {
		c.Intent = in.intent
	}
	if set("platform") {
		c.Platform = in.platform
	}
	if set("action") {
		c.Action = in.action
	}
	if set("complexity") || c.Complexity == "" {
		c.Complexity = workflow.Complexity(in.complexity)
	}
	c.Complexity = workflow.Complexity(strings.ToUpper(string(c.Complexity)))
	if set("confidence") {
		c.Confidence = in.confidence
	}
	if set("credential") {
		c.RequiredCredentials = in.credentials
	}
	if len(in.params) > 0 {
		if c.Parameters == nil {
			c.Parameters = make(map[string]any, len(in.params))
		}
		for k, v := range in.params {
			c.Parameters[k] = v
		}
	}

	env := &cf.Environment
	if set("location") {
		env.Location = in.location
	}
	if set("requires-auth") {
		env.RequiresAuth = in.requiresAuth
	}
	if set("env-error") {
		env.Errors = in.envErrors
	}

	if c.Intent == "" {
		return nil, fmt.Errorf("an intent is required (--intent or command.intent in --file)")
	}
	if !c.Complexity.IsValid() {
		return nil, fmt.Errorf("invalid complexity %q", c.Complexity)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return nil, fmt.Errorf("confidence must be between 0 and 1, got %v", c.Confidence)
	}
	if c.Text == "" {
		c.Text = strings.Join(strings.Fields(c.Intent+" "+c.Action+" "+c.Platform), " ")
	}
	return &cf, nil
}
