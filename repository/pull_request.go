package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
)

// PullRequest is the snapshot of an open pull request taken at fetch time.
// Nothing is persisted across runs: the whole state is re-fetched on every
// invocation.
type PullRequest struct {
	Number    int           `json:"number"`
	URL       string        `json:"url"`
	Title     string        `json:"title"`
	HeadRef   string        `json:"headRefName"`
	CreatedAt time.Time     `json:"createdAt"`
	Labels    []string      `json:"labels"`
	Checks    []CheckResult `json:"statusCheckRollup"`
}

// CheckResult is one entry of the status-check rollup. For check runs,
// State holds the run status (COMPLETED, IN_PROGRESS, ...) and Conclusion
// the outcome; for legacy commit statuses, State holds the outcome
// (SUCCESS, FAILURE, PENDING) and Conclusion is empty.
type CheckResult struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Conclusion  string    `json:"conclusion"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

const searchPageSize = 100

type checkContextNode struct {
	Typename string `graphql:"__typename"`
	CheckRun struct {
		Name        string
		Status      string
		Conclusion  string
		CompletedAt *time.Time
	} `graphql:"... on CheckRun"`
	StatusContext struct {
		Context string
		State   string
	} `graphql:"... on StatusContext"`
}

type commitNode struct {
	Commit struct {
		StatusCheckRollup struct {
			Contexts struct {
				Nodes []checkContextNode
			} `graphql:"contexts(first: 100)"`
		}
	}
}

type pullRequestNode struct {
	Number      int
	URL         string `graphql:"url"`
	Title       string
	HeadRefName string
	CreatedAt   time.Time
	Labels      struct {
		Nodes []struct {
			Name string
		}
	} `graphql:"labels(first: 50)"`
	Commits struct {
		Nodes []commitNode
	} `graphql:"commits(last: 1)"`
}

// ListOpenPullRequests fetches up to options.Limit open pull requests
// authored by options.Author, oldest first, with their labels and
// status-check rollup.
func (r Repository) ListOpenPullRequests(ctx context.Context, options ScanOptions) ([]PullRequest, error) {
	logrus.WithFields(logrus.Fields{
		"repository": r.FullName(),
		"author":     options.Author,
	}).Trace("Listing open Pull Requests")

	gqlClient, err := githubGraphqlClient(ctx, options.GitHub)
	if err != nil {
		return nil, fmt.Errorf("failed to create github GraphQL client: %w", err)
	}

	if options.Limit <= 0 {
		options.Limit = searchPageSize
	}

	searchQuery := fmt.Sprintf("repo:%s is:pr is:open author:%s sort:created-asc", r.FullName(), options.Author)
	variables := map[string]interface{}{
		"query": githubv4.String(searchQuery),
		"first": githubv4.Int(min(searchPageSize, options.Limit)),
		"after": (*githubv4.String)(nil),
	}

	var prs []PullRequest
	for {
		var query struct {
			Search struct {
				Nodes []struct {
					PullRequest pullRequestNode `graphql:"... on PullRequest"`
				}
				PageInfo struct {
					EndCursor   githubv4.String
					HasNextPage bool
				}
			} `graphql:"search(query: $query, type: ISSUE, first: $first, after: $after)"`
		}
		if err := gqlClient.Query(ctx, &query, variables); err != nil {
			return nil, fmt.Errorf("failed to list open Pull Requests for repository %s: %w", r.FullName(), err)
		}

		for _, node := range query.Search.Nodes {
			prs = append(prs, node.PullRequest.toPullRequest())
			if len(prs) >= options.Limit {
				return prs, nil
			}
		}

		if !query.Search.PageInfo.HasNextPage {
			break
		}
		variables["after"] = githubv4.NewString(query.Search.PageInfo.EndCursor)
	}

	logrus.WithFields(logrus.Fields{
		"repository":          r.FullName(),
		"pull-requests-count": len(prs),
	}).Debug("Open Pull Requests listed")
	return prs, nil
}

func (n pullRequestNode) toPullRequest() PullRequest {
	pr := PullRequest{
		Number:    n.Number,
		URL:       n.URL,
		Title:     n.Title,
		HeadRef:   n.HeadRefName,
		CreatedAt: n.CreatedAt,
	}
	for _, label := range n.Labels.Nodes {
		pr.Labels = append(pr.Labels, label.Name)
	}
	if len(n.Commits.Nodes) == 0 {
		return pr
	}
	for _, node := range n.Commits.Nodes[0].Commit.StatusCheckRollup.Contexts.Nodes {
		pr.Checks = append(pr.Checks, node.toCheckResult())
	}
	return pr
}

func (n checkContextNode) toCheckResult() CheckResult {
	if n.Typename == "StatusContext" {
		return CheckResult{
			Name:  n.StatusContext.Context,
			State: n.StatusContext.State,
		}
	}
	check := CheckResult{
		Name:       n.CheckRun.Name,
		State:      n.CheckRun.Status,
		Conclusion: n.CheckRun.Conclusion,
	}
	if n.CheckRun.CompletedAt != nil {
		check.CompletedAt = *n.CheckRun.CompletedAt
	}
	return check
}

// MergePullRequest merges a pull request with the rebase strategy and then
// deletes its source branch. A failure to delete the branch is only logged:
// the merge itself already succeeded.
func (r Repository) MergePullRequest(ctx context.Context, options ScanOptions, pr PullRequest) error {
	client, err := githubClient(ctx, options.GitHub)
	if err != nil {
		return fmt.Errorf("failed to create github client: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"repository":   r.FullName(),
		"pull-request": pr.URL,
	}).Trace("Merging Pull Request")
	res, _, err := client.PullRequests.Merge(ctx, r.Owner, r.Name, pr.Number, "", &github.PullRequestOptions{
		MergeMethod: "rebase",
	})
	if err != nil {
		return fmt.Errorf("failed to merge Pull Request %s: %w", pr.URL, err)
	}
	if !res.GetMerged() {
		return fmt.Errorf("Pull Request %s was not merged: %s", pr.URL, res.GetMessage())
	}

	logrus.WithFields(logrus.Fields{
		"repository":   r.FullName(),
		"pull-request": pr.URL,
	}).Info("Pull Request merged")

	if len(pr.HeadRef) > 0 {
		if _, err := client.Git.DeleteRef(ctx, r.Owner, r.Name, "heads/"+pr.HeadRef); err != nil {
			logrus.WithFields(logrus.Fields{
				"repository":   r.FullName(),
				"pull-request": pr.URL,
				"branch":       pr.HeadRef,
			}).WithError(err).Warning("Failed to delete source branch")
		}
	}
	return nil
}

// CommentPullRequest adds a comment to a pull request.
func (r Repository) CommentPullRequest(ctx context.Context, options ScanOptions, pr PullRequest, body string) error {
	client, err := githubClient(ctx, options.GitHub)
	if err != nil {
		return fmt.Errorf("failed to create github client: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"repository":   r.FullName(),
		"pull-request": pr.URL,
		"comment":      body,
	}).Trace("Adding a comment to the Pull Request")
	_, _, err = client.Issues.CreateComment(ctx, r.Owner, r.Name, pr.Number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to add comment on PR %s: %w", pr.URL, err)
	}
	return nil
}
