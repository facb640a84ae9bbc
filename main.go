package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mergepilot/mergepilot/policy"
	"github.com/mergepilot/mergepilot/repository"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// the following build-related variables are set at release-time by goreleaser
// using ldflags
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var options struct {
	repos []string
	repository.ScanOptions
	label         string
	rulesFile     string
	logLevel      string
	outputResults string
}

func init() {
	// required flags
	pflag.StringArrayVarP(&options.repos, "repo", "r", nil, `A repository to scan, in the form "org/repo", with optional per-repo overrides such as "org/repo(author=app/some-bot,limit=50)".`)
	assert(pflag.CommandLine.SetAnnotation("repo", "mandatory", []string{"true"}))
	pflag.StringVar(&options.Author, "author", os.Getenv("MERGEPILOT_AUTHOR"), `Login of the bot account whose open Pull Requests are scanned, e.g. "app/some-bot". Default to the MERGEPILOT_AUTHOR env var.`)
	assert(pflag.CommandLine.SetAnnotation("author", "mandatory", []string{"true"}))
	pflag.StringVar(&options.GitHub.AuthMethod, "github-auth-method", "token", `Mandatory GitHub authentication method: either "token" or "app".`)
	assert(pflag.CommandLine.SetAnnotation("github-auth-method", "mandatory", []string{"true"}))

	// GitHub auth flags
	pflag.StringVar(&options.GitHub.Token, "github-token", os.Getenv("GITHUB_TOKEN"), `This is the GitHub token - required when the GitHub auth method is "token". Default to the GITHUB_TOKEN env var.`)
	pflag.Int64Var(&options.GitHub.AppID, "github-app-id", int64(getenvInt("GITHUB_APP_ID")), `This is the GitHub AppID - required when the GitHub auth method is "app". Default to the GITHUB_APP_ID env var.`)
	pflag.Int64Var(&options.GitHub.InstallationID, "github-installation-id", int64(getenvInt("GITHUB_INSTALLATION_ID")), "For the `app` GitHub auth method, contains the GitHubApp Installation ID. Default to the GITHUB_INSTALLATION_ID env var.")
	pflag.StringVar(&options.GitHub.PrivateKey, "github-privatekey", os.Getenv("GITHUB_PRIVATEKEY"), "For the `app` GitHub auth method, contains the GitHubApp Private key file in PEM format. Default to the GITHUB_PRIVATEKEY env var.")
	pflag.StringVar(&options.GitHub.PrivateKeyPath, "github-privatekey-path", os.Getenv("GITHUB_PRIVATEKEY_PATH"), "For the `app` GitHub auth method, contains the GitHubApp Private key file path `/some/key.pem` (used if the github-privatekey is empty). Default to the GITHUB_PRIVATEKEY_PATH env var.")
	pflag.StringVar(&options.GitHub.URL, "github-url", repository.PublicGithubURL, `GitHub server URL`)

	// scan flags
	pflag.StringVar(&options.label, "label", "", `Label a Pull Request must carry to opt into auto-merging. Default to the "required_label" of the rules file (automerge).`)
	pflag.IntVar(&options.Limit, "limit", 100, "Maximum number of open Pull Requests fetched per repository.")
	pflag.StringVar(&options.rulesFile, "rules-file", os.Getenv("MERGEPILOT_RULES_FILE"), "Optional YAML file with the check exemption rules. Defaults are compiled in. Default to the MERGEPILOT_RULES_FILE env var.")
	pflag.StringVar(&options.SnapshotDir, "snapshot-dir", temporaryDirectory(), "Directory used to write the per-run JSON snapshot of the fetched Pull Requests.")
	pflag.BoolVar(&options.KeepFiles, "keep-files", false, "Keep the snapshot files on disk. If false, the files will be deleted at the end of the run.")
	pflag.BoolVarP(&options.DryRun, "dry-run", "n", false, "Don't perform any mutation on GitHub: Pull Requests are fetched and evaluated, and the decisions are only logged.")
	pflag.StringVar(&options.outputResults, "output-results", "", "Optional file to write JSON encoded scan results to. This may be useful to other tools for further processing.")

	pflag.StringVar(&options.logLevel, "log-level", "info", "Log level. Supported values: trace, debug, info, warning, error, fatal, panic.")
	pflag.BoolP("help", "h", false, "Display this help message.")
	pflag.Bool("version", false, "Display the version and exit.")

	// usage
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Mergepilot v%s\n", buildVersion)
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		pflag.PrintDefaults()
	}
}

func main() {
	ctx := context.Background()
	pflag.Parse()
	printHelpOrVersion()
	setLogLevel()
	checkMandatoryFlags()

	rules := loadRules()

	logrus.WithField("repos", options.repos).Trace("Parsing repositories")
	repositories, err := repository.Parse(options.repos, nil)
	if err != nil {
		logrus.
			WithError(err).
			WithField("repos", options.repos).
			Fatal("Failed to parse repos")
	}
	logrus.WithField("repositories", repositories).Debug("Repositories ready")

	var resultFile repository.ResultFile
	for _, repo := range repositories {
		result, err := scanRepository(ctx, repo, rules, options.ScanOptions)
		if err != nil {
			// a fetch failure aborts the whole run: no merge decision can be
			// trusted on a partial snapshot
			logrus.
				WithError(err).
				WithField("repository", repo.FullName()).
				Fatal("Repository scan failed")
		}
		resultFile.Repos = append(resultFile.Repos, result)
	}

	logScanSummary(resultFile)

	if options.outputResults != "" {
		if err := writeResults(&resultFile, options.outputResults); err != nil {
			logrus.Fatalf("Failed to write results: %s", err)
		}
	}
}

func scanRepository(ctx context.Context, repo repository.Repository, rules *policy.Rules, opts repository.ScanOptions) (repository.RepoScanResult, error) {
	result := repository.RepoScanResult{
		Owner: repo.Owner,
		Repo:  repo.Name,
	}

	repo.AdjustOptionsFromParams(&opts)
	repoRules := rules.WithRequiredLabel(repo.Params["label"])

	logrus.WithField("repository", repo.FullName()).Trace("Starting repository scan")
	prs, err := repo.ListOpenPullRequests(ctx, opts)
	if err != nil {
		errMsg := err.Error()
		result.Error = &errMsg
		return result, fmt.Errorf("failed to fetch open Pull Requests for repository %s: %w", repo.FullName(), err)
	}

	snapshotPath, err := repo.WriteSnapshot(opts.SnapshotDir, prs)
	if err != nil {
		errMsg := err.Error()
		result.Error = &errMsg
		return result, fmt.Errorf("failed to write snapshot for repository %s: %w", repo.FullName(), err)
	}
	if !opts.KeepFiles {
		defer repository.RemoveSnapshot(snapshotPath)
	}

	for _, pr := range prs {
		decision := repoRules.Evaluate(pr, time.Now())

		for _, comment := range decision.RerunComments {
			if opts.DryRun {
				logrus.WithFields(logrus.Fields{
					"pull-request": pr.URL,
					"comment":      comment,
				}).Warning("Running in dry-run mode, not adding re-run comment")
				continue
			}
			if err := repo.CommentPullRequest(ctx, opts, pr, comment); err != nil {
				logrus.
					WithError(err).
					WithField("pull-request", pr.URL).
					Error("Failed to add re-run comment")
			}
		}

		prResult := repository.PullRequestResult{
			Number: pr.Number,
			URL:    pr.URL,
			Reason: decision.Reason,
		}

		if !decision.Merge {
			logrus.WithFields(logrus.Fields{
				"pull-request": pr.URL,
				"reason":       decision.Reason,
			}).Info("Pull Request skipped")
			result.Skipped = append(result.Skipped, prResult)
			continue
		}

		if opts.DryRun {
			logrus.WithField("pull-request", pr.URL).Warning("Running in dry-run mode, not merging Pull Request")
			result.Merged = append(result.Merged, prResult)
			continue
		}

		if err := repo.MergePullRequest(ctx, opts, pr); err != nil {
			// a merge failure only affects this pull request, the run goes on
			logrus.
				WithError(err).
				WithField("pull-request", pr.URL).
				Error("Failed to merge Pull Request")
			prResult.Reason = "merge failed"
			result.Skipped = append(result.Skipped, prResult)
			continue
		}
		result.Merged = append(result.Merged, prResult)
	}

	logrus.WithFields(logrus.Fields{
		"repository": repo.FullName(),
		"merged":     len(result.Merged),
		"skipped":    len(result.Skipped),
	}).Info("Repository scan finished")
	return result, nil
}

func loadRules() *policy.Rules {
	var (
		rules *policy.Rules
		err   error
	)
	if len(options.rulesFile) > 0 {
		rules, err = policy.Load(options.rulesFile)
		if err != nil {
			logrus.
				WithError(err).
				WithField("rules-file", options.rulesFile).
				Fatal("Failed to load rules")
		}
	} else {
		rules = policy.DefaultRules()
	}
	return rules.WithRequiredLabel(options.label)
}

func logScanSummary(resultFile repository.ResultFile) {
	for _, repo := range resultFile.Repos {
		for _, pr := range repo.Merged {
			logrus.WithField("merged-pr-url", pr.URL).Info("Scan summary (Merged)")
		}
		for _, pr := range repo.Skipped {
			logrus.WithFields(logrus.Fields{
				"skipped-pr-url": pr.URL,
				"reason":         pr.Reason,
			}).Info("Scan summary (Skipped)")
		}
	}
}

func writeResults(results *repository.ResultFile, file string) error {
	jsonBytes, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshall results: %w", err)
	}

	return os.WriteFile(file, jsonBytes, 0644)
}

func checkMandatoryFlags() {
	var missingFlags []string
	pflag.CommandLine.VisitAll(func(flag *pflag.Flag) {
		if mandatory, found := flag.Annotations["mandatory"]; found {
			for _, v := range mandatory {
				if isMandatory, _ := strconv.ParseBool(v); isMandatory {
					switch flag.Value.Type() {
					case "string":
						if len(flag.Value.String()) == 0 {
							missingFlags = append(missingFlags, flag.Name)
						}
					case "stringArray", "stringSlice":
						if flag.Value.String() == "[]" {
							missingFlags = append(missingFlags, flag.Name)
						}
					}
				}
			}
		}
	})

	if len(missingFlags) == 0 {
		return
	}

	logrus.WithField("missing-flags", missingFlags).Fatal("Mandatory fields not defined")
}

func setLogLevel() {
	level, err := logrus.ParseLevel(options.logLevel)
	if err != nil {
		logrus.
			WithError(err).
			WithField("log-level", options.logLevel).
			Fatal("Invalid log level")
	}
	logrus.SetLevel(level)
}

func printHelpOrVersion() {
	if printHelp, _ := pflag.CommandLine.GetBool("help"); printHelp {
		fmt.Printf("Mergepilot version %v, commit %v, built at %v\n", buildVersion, buildCommit, buildDate)
		pflag.Usage()
		os.Exit(0)
	}

	if printVersion, _ := pflag.CommandLine.GetBool("version"); printVersion {
		fmt.Printf("version %v, commit %v, built at %v", buildVersion, buildCommit, buildDate)
		os.Exit(0)
	}
}

func temporaryDirectory() string {
	dir, err := os.MkdirTemp("", "mergepilot")
	if err != nil {
		dir = filepath.Join(os.TempDir(), "mergepilot")
	}
	return dir
}

func assert(err error) {
	if err != nil {
		panic(err)
	}
}

func getenvInt(key string) int {
	s := os.Getenv(key)
	if s != "" {
		v, err := strconv.Atoi(s)
		assert(err)
		return v
	}
	return 0
}
