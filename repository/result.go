package repository

// ResultFile is the JSON document written when the scan is asked to output
// machine-readable results.
type ResultFile struct {
	Repos []RepoScanResult `json:"repos"`
}

// RepoScanResult records what happened to one repository during a run.
type RepoScanResult struct {
	Owner   string              `json:"owner"`
	Repo    string              `json:"repo"`
	Error   *string             `json:"error"`
	Merged  []PullRequestResult `json:"merged"`
	Skipped []PullRequestResult `json:"skipped"`
}

// PullRequestResult identifies a pull request in the results file.
type PullRequestResult struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Reason string `json:"reason,omitempty"`
}
