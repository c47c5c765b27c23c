package testrunanalyzerlib

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

const (
	bigQueryScope    = "https://www.googleapis.com/auth/bigquery"
	storageReadScope = "https://www.googleapis.com/auth/devstorage.read_only"
)

type GoogleAuthenticationFlags struct {
	TokenFileLocation string
	// location of a credential file described by https://cloud.google.com/docs/authentication/production
	GoogleServiceAccountCredentialFile string
	GoogleOAuthClientCredentialFile    string
}

func NewGoogleAuthenticationFlags() *GoogleAuthenticationFlags {
	tokenDir := os.Getenv("HOME")
	if len(tokenDir) == 0 {
		tokenDir = "./"
	}
	return &GoogleAuthenticationFlags{
		TokenFileLocation: filepath.Join(tokenDir, "gcp-token.json"),
	}
}

func (f *GoogleAuthenticationFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.GoogleServiceAccountCredentialFile, "google-service-account-credential-file", f.GoogleServiceAccountCredentialFile, "location of a credential file described by https://cloud.google.com/docs/authentication/production")
	fs.StringVar(&f.GoogleOAuthClientCredentialFile, "google-oauth-credential-file", f.GoogleOAuthClientCredentialFile, "location of a credential file described by https://developers.google.com/people/quickstart/go")
	fs.StringVar(&f.TokenFileLocation, "google-token-file", f.TokenFileLocation, "where the OAuth token obtained with --google-oauth-credential-file is cached")
}

func (f *GoogleAuthenticationFlags) Validate() error {
	if len(f.GoogleServiceAccountCredentialFile) == 0 && len(f.GoogleOAuthClientCredentialFile) == 0 {
		return fmt.Errorf("one of --google-service-account-credential-file or --google-oauth-credential-file must be specified")
	}
	return nil
}

func (f *GoogleAuthenticationFlags) clientOptions(scope string) ([]option.ClientOption, error) {
	if len(f.GoogleServiceAccountCredentialFile) > 0 {
		return []option.ClientOption{option.WithCredentialsFile(f.GoogleServiceAccountCredentialFile)}, nil
	}

	b, err := os.ReadFile(f.GoogleOAuthClientCredentialFile)
	if err != nil {
		return nil, err
	}
	// If modifying these scopes, delete your previously saved token file.
	config, err := google.ConfigFromJSON(b, scope)
	if err != nil {
		return nil, err
	}
	token, err := f.getToken(config)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}, nil
}

func (f *GoogleAuthenticationFlags) NewBigQueryClient(ctx context.Context, projectID string) (*bigquery.Client, error) {
	opts, err := f.clientOptions(bigQueryScope)
	if err != nil {
		return nil, err
	}
	return bigquery.NewClient(ctx, projectID, opts...)
}

func (f *GoogleAuthenticationFlags) NewGCSClient(ctx context.Context) (*storage.Client, error) {
	opts, err := f.clientOptions(storageReadScope)
	if err != nil {
		return nil, err
	}
	return storage.NewClient(ctx, opts...)
}

// getToken reads the cached token or runs the interactive flow and caches its result.
func (f *GoogleAuthenticationFlags) getToken(config *oauth2.Config) (*oauth2.Token, error) {
	tok, err := tokenFromFile(f.TokenFileLocation)
	if err == nil {
		return tok, nil
	}
	tok, err = getTokenFromWeb(config)
	if err != nil {
		return nil, err
	}
	if err := saveToken(f.TokenFileLocation, tok); err != nil {
		logrus.WithError(err).Warn("Unable to cache oauth token")
	}
	return tok, nil
}

func getTokenFromWeb(config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser then type the "+
		"authorization code: \n%v\n", authURL)

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return nil, fmt.Errorf("unable to read authorization code: %w", err)
	}

	tok, err := config.Exchange(context.TODO(), authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return tok, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func saveToken(path string, token *oauth2.Token) error {
	logrus.Infof("Saving credential file to: %s", path)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
