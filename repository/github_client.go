package repository

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bradleyfalzon/ghinstallation"
	"github.com/google/go-github/v57/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/httpretry"
	"golang.org/x/oauth2"
)

func githubAuthenticatedHTTPClient(ctx context.Context, ghOptions GitHubOptions) (*http.Client, error) {
	var (
		httpClient *http.Client
		err        error
	)
	logrus.Tracef("Creating github client using auth method %q", ghOptions.AuthMethod)
	switch ghOptions.AuthMethod {
	case "token":
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: ghOptions.Token})
		httpClient = oauth2.NewClient(ctx, tokenSource)
	case "app":
		httpClient, err = githubAppClient(ghOptions)
	default:
		return nil, fmt.Errorf("GitHub auth method unrecognized (allowed values: app, token): %s", ghOptions.AuthMethod)
	}
	if err != nil {
		return nil, err
	}
	return httpretry.NewCustomClient(httpClient), nil
}

func githubClient(ctx context.Context, ghOptions GitHubOptions) (*github.Client, error) {
	httpClient, err := githubAuthenticatedHTTPClient(ctx, ghOptions)
	if err != nil {
		return nil, err
	}

	if ghOptions.isEnterprise() {
		ghc, err := github.NewClient(httpClient).WithEnterpriseURLs(ghOptions.URL, ghOptions.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create an enterprise client: %w", err)
		}
		return ghc, nil
	}
	return github.NewClient(httpClient), nil
}

func githubGraphqlClient(ctx context.Context, ghOptions GitHubOptions) (*githubv4.Client, error) {
	httpClient, err := githubAuthenticatedHTTPClient(ctx, ghOptions)
	if err != nil {
		return nil, err
	}

	if ghOptions.isEnterprise() {
		apiURL, err := url.JoinPath(ghOptions.URL, "/api/graphql")
		if err != nil {
			return nil, fmt.Errorf("failed to build GraphQL API URL: %w", err)
		}
		return githubv4.NewEnterpriseClient(apiURL, httpClient), nil
	}
	return githubv4.NewClient(httpClient), nil
}

func githubAppClient(ghOptions GitHubOptions) (*http.Client, error) {
	var (
		itr *ghinstallation.Transport
		err error
	)
	if len(ghOptions.PrivateKey) > 0 {
		itr, err = ghinstallation.New(http.DefaultTransport, ghOptions.AppID, ghOptions.InstallationID, []byte(ghOptions.PrivateKey))
	} else {
		itr, err = ghinstallation.NewKeyFromFile(http.DefaultTransport, ghOptions.AppID, ghOptions.InstallationID, ghOptions.PrivateKeyPath)
	}
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: itr}, nil
}
