package app

// Set at build time with -ldflags "-X"
var (
	Name = "puppet-ssl"
	Repository,
	Package,
	Version,
	BuildDate,
	BuildUser,
	GitBranch,
	GitTag,
	GitHash string
)

type AppVersion struct {
	Name       string `json:"name" yaml:"name"`
	Repository string `json:"repository" yaml:"repository"`
	Package    string `json:"package" yaml:"package"`
	Version    string `json:"version" yaml:"version"`
	GitBranch  string `json:"gitBranch" yaml:"git-branch"`
	GitTag     string `json:"gitTag" yaml:"git-tag"`
	GitHash    string `json:"gitHash" yaml:"git-hash"`
	BuildDate  string `json:"buildDate" yaml:"build-date"`
	BuildUser  string `json:"buildUser" yaml:"build-user"`
}

func GetVersion() *AppVersion {
	return &AppVersion{
		Name:       Name,
		Repository: Repository,
		Package:    Package,
		Version:    Version,
		GitBranch:  GitBranch,
		GitTag:     GitTag,
		GitHash:    GitHash,
		BuildDate:  BuildDate,
		BuildUser:  BuildUser}
}
