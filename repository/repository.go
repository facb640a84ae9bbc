package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/imdario/mergo"
	"github.com/mergepilot/mergepilot/internal/parameters"
	"github.com/sirupsen/logrus"
)

// Repository identifies a GitHub repository to scan. Params holds optional
// per-repository overrides, e.g. "org/repo(author=app/some-bot,limit=50)".
type Repository struct {
	Owner  string
	Name   string
	Params map[string]string
}

// Parse builds repositories from their string representations. Each entry is
// "owner/name" with an optional trailing "(key=value,...)" params block.
// Default params apply to every repository unless overridden in its block.
func Parse(repos []string, defaultParams map[string]string) ([]Repository, error) {
	var repositories []Repository
	for _, repo := range repos {
		spec := repo
		params := make(map[string]string)
		if start := strings.IndexRune(spec, '('); start >= 0 {
			if !strings.HasSuffix(spec, ")") {
				return nil, fmt.Errorf("invalid repo %s: unclosed params block", repo)
			}
			params = parameters.Parse(spec[start+1 : len(spec)-1])
			spec = spec[:start]
		}

		nameElems := strings.SplitN(spec, "/", 2)
		if len(nameElems) != 2 || len(nameElems[0]) == 0 || len(nameElems[1]) == 0 {
			return nil, fmt.Errorf("invalid repo %s: expecting the owner/name format", repo)
		}

		if len(defaultParams) > 0 {
			if err := mergo.Merge(&params, defaultParams); err != nil {
				return nil, fmt.Errorf("failed to merge default params for repo %s: %w", repo, err)
			}
		}

		repositories = append(repositories, Repository{
			Owner:  nameElems[0],
			Name:   nameElems[1],
			Params: params,
		})
	}
	return repositories, nil
}

// FullName returns the "owner/name" representation.
func (r Repository) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// AdjustOptionsFromParams overrides the scan options with the repository
// params, so that a single run can scan repositories with different bot
// authors or fetch limits.
func (r Repository) AdjustOptionsFromParams(options *ScanOptions) {
	if author, ok := r.Params["author"]; ok {
		options.Author = author
	}
	if limitStr, ok := r.Params["limit"]; ok {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			logrus.WithFields(logrus.Fields{
				"repository": r.FullName(),
				"limit":      limitStr,
			}).Warning("Ignoring invalid limit param")
		} else {
			options.Limit = limit
		}
	}
	if dryRun, ok := r.Params["dry-run"]; ok {
		options.DryRun, _ = strconv.ParseBool(dryRun)
	}
}
