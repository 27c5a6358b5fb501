package build

import "strings"

var (
	Version = "dev"
	AppName = "Strata"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
