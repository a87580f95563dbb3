package data

import "embed"

// ConfigFilename is the name of the default threshold document inside Config.
const ConfigFilename = "linecaptcha.yaml"

var (
	//go:embed linecaptcha.yaml
	Config embed.FS
)
