package repository

// PublicGithubURL is the URL of the public GitHub instance.
const PublicGithubURL = "https://github.com"

// ScanOptions drives a single scan of a repository.
type ScanOptions struct {
	Author      string
	Limit       int
	DryRun      bool
	KeepFiles   bool
	SnapshotDir string
	GitHub      GitHubOptions
}

// GitHubOptions holds the GitHub authentication configuration.
type GitHubOptions struct {
	URL            string
	AuthMethod     string
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKey     string
	PrivateKeyPath string
}

func (o GitHubOptions) isEnterprise() bool {
	return len(o.URL) > 0 && o.URL != PublicGithubURL
}
