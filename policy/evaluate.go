package policy

import (
	"time"

	"github.com/mergepilot/mergepilot/repository"
	"github.com/sirupsen/logrus"
)

// Decision is the outcome of evaluating a single pull request. RerunComments
// collects the re-run triggers encountered before any abort: they are side
// effects to perform whether or not the pull request gets merged.
type Decision struct {
	Merge         bool
	Reason        string
	FailedCheck   string
	RerunComments []string
}

// Evaluate walks the status checks of a pull request in listing order and
// decides whether it can be merged. Evaluation stops at the first failing
// check that is not covered by the exemption table.
func (r *Rules) Evaluate(pr repository.PullRequest, now time.Time) Decision {
	if len(pr.URL) == 0 {
		return Decision{Reason: "pull request has no URL"}
	}

	if age := now.Sub(pr.CreatedAt); age < r.GracePeriod {
		logrus.WithFields(logrus.Fields{
			"pull-request": pr.URL,
			"age":          age.String(),
		}).Debug("Pull Request is still in its grace period")
		return Decision{Reason: "created too recently"}
	}

	if !prHasLabel(pr, r.RequiredLabel) {
		return Decision{Reason: "missing the " + r.RequiredLabel + " label"}
	}

	decision := Decision{}
	for _, check := range pr.Checks {
		if r.ignored(check.Name) {
			logrus.WithFields(logrus.Fields{
				"pull-request": pr.URL,
				"check":        check.Name,
			}).Trace("Ignoring non-authoritative check")
			continue
		}

		for _, rule := range r.Rerun {
			if !rule.matches(check, now) {
				continue
			}
			comment, err := rule.renderComment(pr.URL)
			if err != nil {
				logrus.
					WithError(err).
					WithField("check", check.Name).
					Warning("Failed to render re-run comment")
				continue
			}
			decision.RerunComments = append(decision.RerunComments, comment)
		}

		if r.SkipChecks.Contains(check.Name) {
			logrus.WithFields(logrus.Fields{
				"pull-request": pr.URL,
				"check":        check.Name,
			}).Trace("Skipping unreliable check")
			continue
		}

		if !checkPassed(check) {
			decision.Reason = "check " + check.Name + " did not pass"
			decision.FailedCheck = check.Name
			return decision
		}
	}

	decision.Merge = true
	decision.Reason = "all checks passed"
	return decision
}

func (r *Rules) ignored(name string) bool {
	for _, re := range r.IgnoreChecks {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (r RerunRule) matches(check repository.CheckResult, now time.Time) bool {
	if check.Name != r.Check || check.Conclusion != "FAILURE" {
		return false
	}
	if check.CompletedAt.IsZero() || now.Sub(check.CompletedAt) < r.StaleAfter {
		return false
	}
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return utc.Sub(midnight) < r.DailyBefore
}

func checkPassed(check repository.CheckResult) bool {
	if check.State == "SUCCESS" {
		return true
	}
	switch check.Conclusion {
	case "SUCCESS", "NEUTRAL":
		return true
	}
	return false
}

func prHasLabel(pr repository.PullRequest, required string) bool {
	for _, label := range pr.Labels {
		if label == required {
			return true
		}
	}
	return false
}
