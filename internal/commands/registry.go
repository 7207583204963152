package commands

import (
	"github.com/danmuck/tether/internal/command"
)

// Builtins returns the descriptors of every built-in command.
func Builtins() []command.Descriptor {
	return []command.Descriptor{
		{
			Name:        "echo",
			Usage:       "echo [text]",
			Description: "Sends text to the endpoint and prints what comes back.",
			Args:        []command.ArgType{command.String},
			Command:     Echo{},
		},
		{
			Name:        "sysinfo",
			Usage:       "sysinfo",
			Description: "Prints host facts of the endpoint: OS, architecture, hostname, user and working directory.",
			Command:     SysInfo{},
		},
		{
			Name:        "list_dir",
			Usage:       "list_dir {path}",
			Description: "Lists a directory on the endpoint, its working directory by default.",
			Args:        []command.ArgType{command.OptString},
			Command:     ListDir{},
		},
		{
			Name:        "list_processes",
			Usage:       "list_processes",
			Description: "Lists running processes on the endpoint.",
			Command:     ListProcesses{},
		},
		{
			Name:        "change_dir",
			Usage:       "change_dir [path]",
			Description: "Changes the working directory of the agent.",
			Args:        []command.ArgType{command.String},
			Command:     PathOp{Verb: "change directory to", Op: changeDir},
		},
		{
			Name:        "make_dir",
			Usage:       "make_dir [path]",
			Description: "Creates a directory and its parents on the endpoint.",
			Args:        []command.ArgType{command.String},
			Command:     PathOp{Verb: "create", Op: makeDir},
		},
		{
			Name:        "delete_file",
			Usage:       "delete_file [path]",
			Description: "Deletes a file on the endpoint. Directories are refused.",
			Args:        []command.ArgType{command.String},
			Command:     PathOp{Verb: "delete", Op: deleteFile},
		},
		{
			Name:        "upload_file",
			Usage:       "upload_file [local path] [remote path]",
			Description: "Copies a local file to the endpoint.",
			Args:        []command.ArgType{command.String, command.String},
			Command:     UploadFile{},
		},
		{
			Name:        "download_file",
			Usage:       "download_file [remote path] [local path]",
			Description: "Copies a file from the endpoint to a local path.",
			Args:        []command.ArgType{command.String, command.String},
			MaxSelected: 1,
			Command:     DownloadFile{},
		},
		{
			Name:        "run_command",
			Usage:       "run_command [command]",
			Description: "Runs a shell command on the endpoint and prints its output.",
			Args:        []command.ArgType{command.String},
			Command:     RunCommand{},
		},
		{
			Name:        "run_detached",
			Usage:       "run_detached [command]",
			Description: "Starts a shell command on the endpoint without waiting for it.",
			Args:        []command.ArgType{command.String},
			Command:     RunDetached{},
		},
		{
			Name:         "shell",
			Usage:        "shell",
			Description:  "Opens an interactive shell on the endpoint. Type 'exit' to leave.",
			MaxSelected:  1,
			Serialize:    true,
			InController: true,
			Command:      Shell{},
		},
		{
			Name:        "disconnect",
			Usage:       "disconnect",
			Description: "Stops the agent and removes the endpoint.",
			Terminates:  true,
			Command:     Disconnect{},
		},
	}
}

// NewRegistry builds a registry of the built-ins with reserved names held
// back for controller-local commands.
func NewRegistry(reserved ...string) (*command.Registry, error) {
	b := command.NewBuilder()
	if err := b.Reserve(reserved...); err != nil {
		return nil, err
	}
	for _, d := range Builtins() {
		if err := b.Add(d); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}
