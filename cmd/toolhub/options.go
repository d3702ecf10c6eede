package main

// Options is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags.
type Options struct {
	Agent     string `short:"a" long:"agent" env:"TOOLHUB_AGENT" description:"Agent to load (default: config default_agent, then the built-in default)"`
	Workspace string `short:"w" long:"workspace" description:"Workspace root holding .toolhub/ (default: current directory)"`
	LogStderr bool   `long:"log-stderr" description:"Also write logs to stderr"`
	Debug     bool   `long:"debug" env:"TOOLHUB_DEBUG" description:"Enable debug logs"`

	Chat     ChatCmd     `command:"chat" description:"Load the agent's tools and start an interactive session"`
	Tools    ToolsCmd    `command:"tools" description:"Print the merged tool catalog"`
	Call     CallCmd     `command:"call" description:"Invoke one tool with JSON arguments"`
	Prompts  PromptsCmd  `command:"prompts" description:"List the prompts offered by the agent's servers"`
	Prompt   PromptCmd   `command:"prompt" description:"Render one prompt with positional arguments"`
	Settings SettingsCmd `command:"settings" description:"Show or change settings"`
}
